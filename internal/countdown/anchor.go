package countdown

import (
	"encoding/json"
	"os"
	"sync"
)

// AnchorStore is the key-value capability backing fixed-timer anchors. The
// runner treats every failure as "no anchor" and anchors at now, so
// implementations never need to guarantee durability.
type AnchorStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// MemoryAnchorStore keeps anchors for the lifetime of the process. Suitable
// for tests and single-page sessions.
type MemoryAnchorStore struct {
	mu   sync.Mutex
	data map[string]string
}

func NewMemoryAnchorStore() *MemoryAnchorStore {
	return &MemoryAnchorStore{data: make(map[string]string)}
}

func (m *MemoryAnchorStore) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *MemoryAnchorStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// FileAnchorStore persists anchors to a JSON file so they survive restarts,
// the way browser localStorage survives page reloads. Reads load the file
// lazily; a missing or corrupt file behaves as empty.
type FileAnchorStore struct {
	mu     sync.Mutex
	path   string
	loaded bool
	data   map[string]string
}

func NewFileAnchorStore(path string) *FileAnchorStore {
	return &FileAnchorStore{path: path, data: make(map[string]string)}
}

func (f *FileAnchorStore) Get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.load()
	v, ok := f.data[key]
	return v, ok
}

func (f *FileAnchorStore) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.load()
	f.data[key] = value

	raw, err := json.Marshal(f.data)
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, raw, 0o644)
}

func (f *FileAnchorStore) load() {
	if f.loaded {
		return
	}
	f.loaded = true

	raw, err := os.ReadFile(f.path)
	if err != nil {
		return
	}

	var data map[string]string
	if err := json.Unmarshal(raw, &data); err != nil {
		return
	}
	f.data = data
}
