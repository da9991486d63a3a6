// Package countdown implements the per-timer countdown state machine used by
// storefront mounts: a RUNNING -> ENDED machine ticking at 1 Hz, with
// fixed-duration timers anchored per visitor through an AnchorStore.
package countdown

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"urgency-timer-api/internal/models"
)

// State is the runner's lifecycle state. ENDED is terminal.
type State int

const (
	Running State = iota
	Ended
)

func (s State) String() string {
	if s == Ended {
		return "ended"
	}
	return "running"
}

// Units is a remaining duration decomposed for display.
type Units struct {
	Days    int
	Hours   int
	Minutes int
	Seconds int
}

// Decompose splits non-negative remaining seconds into display units.
func Decompose(total int64) Units {
	if total < 0 {
		total = 0
	}
	return Units{
		Days:    int(total / 86400),
		Hours:   int((total % 86400) / 3600),
		Minutes: int((total % 3600) / 60),
		Seconds: int(total % 60),
	}
}

// Pad2 renders a unit value zero-padded to two digits.
func Pad2(n int) string {
	if n < 10 && n >= 0 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

func (u Units) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", Pad2(u.Days), Pad2(u.Hours), Pad2(u.Minutes), Pad2(u.Seconds))
}

// Frame is one rendered countdown state, emitted at mount and on every tick.
type Frame struct {
	Units     Units
	Remaining int64
	State     State
	// Visible is false once the element should be removed from display
	// (onExpiry unpublish/hide after expiry, or a manual bar dismiss).
	Visible bool
}

// AnchorKey is the persisted key for a fixed timer's first-view anchor.
func AnchorKey(timerID string) string {
	return "utimer_fixed_" + timerID + "_startedAt"
}

// Runner drives one mounted timer. Runners are independent; no state is
// shared between them.
type Runner struct {
	timer   models.ResolvedTimerView
	clock   clockwork.Clock
	onFrame func(Frame)

	anchor time.Time // fixed timers only

	mu        sync.Mutex
	state     State
	visible   bool
	dismissed bool

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// RunnerOptions configures a Runner. Zero values get sane defaults.
type RunnerOptions struct {
	Clock   clockwork.Clock
	Anchors AnchorStore
	OnFrame func(Frame)
}

// NewRunner prepares a runner for one resolved timer. For fixed-duration
// timers the anchor is read-or-initialized here, synchronously, so the first
// tick always sees it; anchor store failures fail open by anchoring at now.
func NewRunner(timer models.ResolvedTimerView, opts RunnerOptions) *Runner {
	clk := opts.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}

	r := &Runner{
		timer:   timer,
		clock:   clk,
		onFrame: opts.OnFrame,
		state:   Running,
		visible: true,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}

	if timer.TimerType == models.TimerTypeFixed {
		r.anchor = resolveAnchor(opts.Anchors, timer.ID, clk.Now())
	}

	return r
}

func resolveAnchor(store AnchorStore, timerID string, now time.Time) time.Time {
	if store == nil {
		return now
	}

	key := AnchorKey(timerID)
	if raw, ok := store.Get(key); ok {
		if sec, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return time.Unix(sec, 0)
		}
	}

	// Write before the first tick reads it; a failed write just means the
	// anchor resets on the next page load.
	_ = store.Set(key, strconv.FormatInt(now.Unix(), 10))
	return now
}

// Start emits the first frame synchronously, then ticks once per second
// until expiry, dismissal, Stop, or context cancellation. A timer the server
// already marked ended transitions immediately.
func (r *Runner) Start(ctx context.Context) {
	if r.tick() {
		close(r.done)
		return
	}

	go r.run(ctx)
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.done)

	ticker := r.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if r.tick() {
				return
			}
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick recomputes the frame and reports whether the run loop should stop.
func (r *Runner) tick() bool {
	r.mu.Lock()

	if r.state == Ended || r.dismissed {
		r.mu.Unlock()
		return true
	}

	remaining, canEnd := r.remaining(r.clock.Now())

	ended := r.timer.Ended || (canEnd && remaining <= 0)
	if ended {
		r.state = Ended
		remaining = 0
		switch r.timer.OnExpiry {
		case models.OnExpiryKeep:
			// Frozen at zero, still visible.
		default:
			// unpublish/hide, and anything unrecognized, removes the element.
			r.visible = false
		}
	}

	frame := Frame{
		Units:     Decompose(remaining),
		Remaining: remaining,
		State:     r.state,
		Visible:   r.visible,
	}
	onFrame := r.onFrame
	r.mu.Unlock()

	if onFrame != nil {
		onFrame(frame)
	}

	return ended
}

// remaining computes whole seconds left. canEnd is false for countdowns
// without a deadline: no deadline means the timer can never expire.
func (r *Runner) remaining(now time.Time) (int64, bool) {
	switch r.timer.TimerType {
	case models.TimerTypeCountdown:
		if r.timer.EndDate == nil {
			return 0, false
		}
		secs := int64(r.timer.EndDate.Sub(now) / time.Second)
		if secs < 0 {
			secs = 0
		}
		return secs, true

	case models.TimerTypeFixed:
		total := int64(r.timer.FixedMinutes) * 60
		elapsed := int64(now.Sub(r.anchor) / time.Second)
		secs := total - elapsed
		if secs < 0 {
			secs = 0
		}
		return secs, true

	default:
		return 0, false
	}
}

// Dismiss handles the bar's manual close action. It is a terminal user
// action independent of countdown state: the element disappears and the tick
// loop stops, whatever the remaining time.
func (r *Runner) Dismiss() {
	r.mu.Lock()
	r.dismissed = true
	r.visible = false
	frame := Frame{
		Units:     Decompose(0),
		Remaining: 0,
		State:     r.state,
		Visible:   false,
	}
	onFrame := r.onFrame
	r.mu.Unlock()

	if onFrame != nil {
		onFrame(frame)
	}
	r.stop()
}

// Stop cancels the tick loop without changing visibility, as on navigation
// away. Safe to call multiple times.
func (r *Runner) Stop() {
	r.stop()
}

func (r *Runner) stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Done is closed once the run loop has fully exited.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Snapshot returns the current state without ticking.
func (r *Runner) Snapshot() Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	remaining := int64(0)
	if r.state == Running && !r.dismissed {
		remaining, _ = r.remaining(r.clock.Now())
	}

	return Frame{
		Units:     Decompose(remaining),
		Remaining: remaining,
		State:     r.state,
		Visible:   r.visible,
	}
}

// State returns the runner's current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}
