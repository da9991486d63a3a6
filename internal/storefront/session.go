package storefront

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"

	"urgency-timer-api/internal/countdown"
	"urgency-timer-api/internal/models"
)

// Session owns one page load's timer state: a single-flight fetch of the
// resolved timers, the runners mounted from them, and the once-per-mount
// view beacons. Creating a new Session per page navigation keeps no state
// global, so single-page-app navigations and tests get a clean slate.
type Session struct {
	client  *Client
	visitor models.VisitorContext
	anchors countdown.AnchorStore
	clock   clockwork.Clock

	fetchOnce sync.Once
	timers    []models.ResolvedTimerView

	mu       sync.Mutex
	mounts   []*Mount
	beaconed map[string]bool
}

// SessionOptions configures optional session collaborators.
type SessionOptions struct {
	Anchors countdown.AnchorStore
	Clock   clockwork.Clock
}

func NewSession(client *Client, visitor models.VisitorContext, opts SessionOptions) *Session {
	s := &Session{
		client:   client,
		visitor:  visitor,
		anchors:  opts.Anchors,
		clock:    opts.Clock,
		beaconed: make(map[string]bool),
	}
	if s.anchors == nil {
		s.anchors = countdown.NewMemoryAnchorStore()
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	return s
}

// Timers fetches the visitor's timers exactly once per session. Fetch
// failures fail open to an empty list; timers are a non-critical enhancement
// and must never break the host page.
func (s *Session) Timers(ctx context.Context) []models.ResolvedTimerView {
	s.fetchOnce.Do(func() {
		timers, err := s.client.FetchTimers(ctx, s.visitor)
		if err != nil {
			s.timers = nil
			return
		}
		s.timers = timers
	})
	return s.timers
}

// Mount is one rendered timer instance on the page.
type Mount struct {
	Timer  models.ResolvedTimerView
	runner *countdown.Runner
}

// Dismiss removes a bar from view immediately. Terminal, independent of the
// countdown state.
func (m *Mount) Dismiss() { m.runner.Dismiss() }

// Snapshot returns the mount's current countdown frame.
func (m *Mount) Snapshot() countdown.Frame { return m.runner.Snapshot() }

// State returns the mount's countdown state.
func (m *Mount) State() countdown.State { return m.runner.State() }

// Done is closed when the mount's tick loop has exited.
func (m *Mount) Done() <-chan struct{} { return m.runner.Done() }

// MountProduct mounts the first product-page timer, optionally narrowed to a
// specific timer id supplied by the theme block. Returns nil when no timer
// applies.
func (s *Session) MountProduct(ctx context.Context, timerID string, onFrame func(countdown.Frame)) *Mount {
	for _, t := range s.Timers(ctx) {
		if t.Type != models.PlacementProductPage {
			continue
		}
		if timerID != "" && t.ID != timerID {
			continue
		}
		return s.mount(ctx, t, onFrame)
	}
	return nil
}

// MountBars mounts every top/bottom bar timer.
func (s *Session) MountBars(ctx context.Context, onFrame func(models.ResolvedTimerView, countdown.Frame)) []*Mount {
	var mounts []*Mount
	for _, t := range s.Timers(ctx) {
		if t.Type != models.PlacementTopBottomBar {
			continue
		}
		timer := t
		var cb func(countdown.Frame)
		if onFrame != nil {
			cb = func(f countdown.Frame) { onFrame(timer, f) }
		}
		mounts = append(mounts, s.mount(ctx, timer, cb))
	}
	return mounts
}

func (s *Session) mount(ctx context.Context, t models.ResolvedTimerView, onFrame func(countdown.Frame)) *Mount {
	runner := countdown.NewRunner(t, countdown.RunnerOptions{
		Clock:   s.clock,
		Anchors: s.anchors,
		OnFrame: onFrame,
	})
	runner.Start(ctx)

	m := &Mount{Timer: t, runner: runner}

	s.mu.Lock()
	s.mounts = append(s.mounts, m)
	first := !s.beaconed[t.ID]
	s.beaconed[t.ID] = true
	s.mu.Unlock()

	if first {
		go s.client.SendViewBeacon(ctx, models.ViewEvent{
			Shop:      s.visitor.Shop,
			TimerID:   t.ID,
			PageURL:   s.visitor.PageURL,
			PageType:  s.visitor.PageType,
			ProductID: s.visitor.ProductID,
			Country:   s.visitor.Country,
		})
	}

	return m
}

// Close stops every mounted runner, as on navigation away.
func (s *Session) Close() {
	s.mu.Lock()
	mounts := s.mounts
	s.mu.Unlock()

	for _, m := range mounts {
		m.runner.Stop()
	}
}
