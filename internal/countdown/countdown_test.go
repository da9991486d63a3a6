package countdown

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"urgency-timer-api/internal/models"
)

func TestDecompose(t *testing.T) {
	cases := []struct {
		total int64
		want  Units
	}{
		{0, Units{0, 0, 0, 0}},
		{59, Units{0, 0, 0, 59}},
		{60, Units{0, 0, 1, 0}},
		{3600, Units{0, 1, 0, 0}},
		{86400, Units{1, 0, 0, 0}},
		{90061, Units{1, 1, 1, 1}},
		{-5, Units{0, 0, 0, 0}},
	}

	for _, tc := range cases {
		if got := Decompose(tc.total); got != tc.want {
			t.Errorf("Decompose(%d) = %+v, want %+v", tc.total, got, tc.want)
		}
	}

	// Decomposition must re-sum to the original value
	for _, total := range []int64{1, 61, 3661, 90061, 172800} {
		u := Decompose(total)
		sum := int64(u.Days)*86400 + int64(u.Hours)*3600 + int64(u.Minutes)*60 + int64(u.Seconds)
		if sum != total {
			t.Errorf("Decompose(%d) re-sums to %d", total, sum)
		}
	}
}

func TestUnitsString(t *testing.T) {
	u := Decompose(90061)
	if got := u.String(); got != "01:01:01:01" {
		t.Errorf("got %q, want 01:01:01:01", got)
	}
	if got := Pad2(0); got != "00" {
		t.Errorf("Pad2(0) = %q", got)
	}
	if got := Pad2(123); got != "123" {
		t.Errorf("Pad2(123) = %q", got)
	}
}

// drainFrame receives one frame or fails the test.
func drainFrame(t *testing.T, frames chan Frame) Frame {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

func TestRunner_CountdownExpiresAndHides(t *testing.T) {
	clk := clockwork.NewFakeClock()
	end := clk.Now().Add(3 * time.Second)
	frames := make(chan Frame, 16)

	timer := models.ResolvedTimerView{
		ID:        "t-1",
		TimerType: models.TimerTypeCountdown,
		EndDate:   &end,
		OnExpiry:  models.OnExpiryHide,
	}

	r := NewRunner(timer, RunnerOptions{
		Clock:   clk,
		OnFrame: func(f Frame) { frames <- f },
	})
	r.Start(context.Background())

	first := drainFrame(t, frames)
	if first.Remaining != 3 || first.State != Running || !first.Visible {
		t.Fatalf("unexpected first frame: %+v", first)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clk.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("run loop never started ticking: %v", err)
	}

	for want := int64(2); want >= 0; want-- {
		clk.Advance(time.Second)
		f := drainFrame(t, frames)
		if f.Remaining != want {
			t.Fatalf("remaining = %d, want %d", f.Remaining, want)
		}
	}

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after expiry")
	}

	final := r.Snapshot()
	if final.State != Ended || final.Visible {
		t.Errorf("expired hide timer should be ended and hidden: %+v", final)
	}
}

func TestRunner_ExpiredKeepStaysVisible(t *testing.T) {
	clk := clockwork.NewFakeClock()
	frames := make(chan Frame, 4)

	timer := models.ResolvedTimerView{
		ID:        "t-keep",
		TimerType: models.TimerTypeCountdown,
		OnExpiry:  models.OnExpiryKeep,
		Ended:     true,
	}

	r := NewRunner(timer, RunnerOptions{
		Clock:   clk,
		OnFrame: func(f Frame) { frames <- f },
	})
	r.Start(context.Background())

	f := drainFrame(t, frames)
	if f.State != Ended || !f.Visible || f.Remaining != 0 {
		t.Fatalf("kept ended timer should freeze at zero, visible: %+v", f)
	}

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("server-ended timer should stop immediately")
	}
}

func TestRunner_CountdownWithoutDeadlineNeverEnds(t *testing.T) {
	clk := clockwork.NewFakeClock()
	frames := make(chan Frame, 16)

	timer := models.ResolvedTimerView{
		ID:        "t-endless",
		TimerType: models.TimerTypeCountdown,
		OnExpiry:  models.OnExpiryUnpublish,
	}

	r := NewRunner(timer, RunnerOptions{
		Clock:   clk,
		OnFrame: func(f Frame) { frames <- f },
	})
	r.Start(context.Background())
	defer r.Stop()

	first := drainFrame(t, frames)
	if first.State != Running || !first.Visible {
		t.Fatalf("deadline-less countdown must keep running: %+v", first)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clk.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("run loop never started ticking: %v", err)
	}

	for i := 0; i < 3; i++ {
		clk.Advance(time.Second)
		f := drainFrame(t, frames)
		if f.State != Running || !f.Visible {
			t.Fatalf("tick %d unexpectedly ended the timer: %+v", i, f)
		}
	}
}

func TestRunner_FixedAnchorSurvivesRemount(t *testing.T) {
	clk := clockwork.NewFakeClock()
	anchors := NewMemoryAnchorStore()

	timer := models.ResolvedTimerView{
		ID:           "t-fixed",
		TimerType:    models.TimerTypeFixed,
		FixedMinutes: 1,
		OnExpiry:     models.OnExpiryHide,
	}

	first := NewRunner(timer, RunnerOptions{Clock: clk, Anchors: anchors})
	if got := first.Snapshot().Remaining; got != 60 {
		t.Fatalf("fresh fixed timer remaining = %d, want 60", got)
	}

	// Time passes, visitor leaves and comes back
	clk.Advance(25 * time.Second)
	first.Stop()

	second := NewRunner(timer, RunnerOptions{Clock: clk, Anchors: anchors})
	if got := second.Snapshot().Remaining; got != 35 {
		t.Fatalf("remounted fixed timer remaining = %d, want 35", got)
	}
}

func TestRunner_FixedAnchorCorruptValueFailsOpen(t *testing.T) {
	clk := clockwork.NewFakeClock()
	anchors := NewMemoryAnchorStore()
	anchors.Set(AnchorKey("t-fixed"), "not-a-number")

	timer := models.ResolvedTimerView{
		ID:           "t-fixed",
		TimerType:    models.TimerTypeFixed,
		FixedMinutes: 2,
	}

	r := NewRunner(timer, RunnerOptions{Clock: clk, Anchors: anchors})
	if got := r.Snapshot().Remaining; got != 120 {
		t.Fatalf("corrupt anchor should re-anchor at now, remaining = %d", got)
	}
}

func TestRunner_DismissIsTerminal(t *testing.T) {
	clk := clockwork.NewFakeClock()
	end := clk.Now().Add(time.Hour)
	frames := make(chan Frame, 16)

	timer := models.ResolvedTimerView{
		ID:        "t-bar",
		TimerType: models.TimerTypeCountdown,
		EndDate:   &end,
		OnExpiry:  models.OnExpiryKeep,
	}

	r := NewRunner(timer, RunnerOptions{
		Clock:   clk,
		OnFrame: func(f Frame) { frames <- f },
	})
	r.Start(context.Background())
	drainFrame(t, frames)

	r.Dismiss()
	f := drainFrame(t, frames)
	if f.Visible {
		t.Fatal("dismissed bar must not be visible")
	}

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("dismissed runner did not stop")
	}

	if snap := r.Snapshot(); snap.Visible || snap.Remaining != 0 {
		t.Errorf("dismiss should zero and hide the snapshot: %+v", snap)
	}
}

func TestFileAnchorStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anchors.json")

	store := NewFileAnchorStore(path)
	if err := store.Set("k1", "1700000000"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	reopened := NewFileAnchorStore(path)
	v, ok := reopened.Get("k1")
	if !ok || v != "1700000000" {
		t.Fatalf("got %q, %v after reopen", v, ok)
	}
}

func TestFileAnchorStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anchors.json")
	if err := os.WriteFile(path, []byte("{{{"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewFileAnchorStore(path)
	if _, ok := store.Get("k1"); ok {
		t.Fatal("corrupt file should read as empty")
	}
	if err := store.Set("k1", "1"); err != nil {
		t.Fatalf("store should recover by rewriting: %v", err)
	}
}
