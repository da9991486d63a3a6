package events

import (
	"context"
	"sync"
	"time"

	"urgency-timer-api/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventTimerSaved is emitted when a timer is created or updated
	EventTimerSaved EventType = "timer.saved"
	// EventTimerDeleted is emitted when a timer is removed
	EventTimerDeleted EventType = "timer.deleted"
	// EventTimersResolved is emitted when the public resolver serves a visitor
	EventTimersResolved EventType = "timers.resolved"
	// EventTimerViewed is emitted when a view beacon is accepted
	EventTimerViewed EventType = "timer.viewed"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// TimerSavedData contains data for timer saved events.
type TimerSavedData struct {
	Timer models.Timer
}

// TimerDeletedData contains data for timer deleted events.
type TimerDeletedData struct {
	TimerID string
	Shop    string
}

// TimersResolvedData contains data for resolver events.
type TimersResolvedData struct {
	Shop       string
	PageType   string
	Matched    int
	ResolvedAt time.Time
}

// TimerViewedData contains data for view beacon events.
type TimerViewedData struct {
	View models.ViewEvent
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
}

// NewManager creates a new event manager.
func NewManager(enabled bool) *Manager {
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	if !m.enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish publishes an event to all subscribed handlers.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	if !m.enabled {
		return
	}

	m.mu.RLock()
	handlers := m.handlers[eventType]
	m.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	// Handlers run asynchronously so publishing never blocks a request.
	for _, handler := range handlers {
		go func(h Handler) {
			if err := h(ctx, event); err != nil {
				_ = err
			}
		}(handler)
	}
}

// PublishTimerSaved publishes a timer saved event.
func (m *Manager) PublishTimerSaved(ctx context.Context, timer models.Timer) {
	m.Publish(ctx, EventTimerSaved, TimerSavedData{Timer: timer})
}

// PublishTimerDeleted publishes a timer deleted event.
func (m *Manager) PublishTimerDeleted(ctx context.Context, shop, timerID string) {
	m.Publish(ctx, EventTimerDeleted, TimerDeletedData{TimerID: timerID, Shop: shop})
}

// PublishTimersResolved publishes a resolver event.
func (m *Manager) PublishTimersResolved(ctx context.Context, shop, pageType string, matched int) {
	m.Publish(ctx, EventTimersResolved, TimersResolvedData{
		Shop:       shop,
		PageType:   pageType,
		Matched:    matched,
		ResolvedAt: time.Now(),
	})
}

// PublishTimerViewed publishes a view beacon event.
func (m *Manager) PublishTimerViewed(ctx context.Context, view models.ViewEvent) {
	m.Publish(ctx, EventTimerViewed, TimerViewedData{View: view})
}

// Shutdown shuts down the event manager.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
}
