package views

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"urgency-timer-api/internal/database"
	"urgency-timer-api/internal/models"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "views_test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func TestQueue_EnqueueDropsWhenFull(t *testing.T) {
	q := NewQueue(2)

	ev := models.ViewEvent{Shop: "demo.myshopify.com", TimerID: "t-1"}
	if !q.Enqueue(ev) || !q.Enqueue(ev) {
		t.Fatal("queue should accept up to its capacity")
	}
	if q.Enqueue(ev) {
		t.Error("full queue must drop, not block")
	}
}

func TestMonthlyCounterKey(t *testing.T) {
	ts := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	got := MonthlyCounterKey("demo.myshopify.com", ts)
	if got != "views:demo.myshopify.com:2026-03" {
		t.Errorf("key = %q", got)
	}
}

func TestWorker_FlushesFullBatch(t *testing.T) {
	db := setupTestDB(t)
	shop := "demo.myshopify.com"
	if _, err := db.EnsureShop(shop); err != nil {
		t.Fatalf("Failed to ensure shop: %v", err)
	}

	queue := NewQueue(16)
	worker := NewWorkerWithConfig(db, nil, queue, 3, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if !queue.Enqueue(models.ViewEvent{Shop: shop, TimerID: "t-1", OccurredAt: now}) {
			t.Fatalf("enqueue %d failed", i)
		}
	}

	// A full batch flushes without waiting for the ticker
	deadline := time.Now().Add(3 * time.Second)
	for {
		s, err := db.GetShop(shop)
		if err != nil {
			t.Fatalf("Failed to get shop: %v", err)
		}
		if s.MonthlyViews == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("batch never flushed, views = %d", s.MonthlyViews)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}

func TestWorker_FlushesOnShutdown(t *testing.T) {
	db := setupTestDB(t)
	shop := "demo.myshopify.com"
	if _, err := db.EnsureShop(shop); err != nil {
		t.Fatalf("Failed to ensure shop: %v", err)
	}

	queue := NewQueue(16)
	worker := NewWorkerWithConfig(db, nil, queue, 100, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	if !queue.Enqueue(models.ViewEvent{Shop: shop, TimerID: "t-1", OccurredAt: time.Now().UTC()}) {
		t.Fatal("enqueue failed")
	}

	// Give the worker a moment to move the event into its batch
	deadline := time.Now().Add(2 * time.Second)
	for len(queue.ch) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("worker never drained the queue")
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}

	s, err := db.GetShop(shop)
	if err != nil {
		t.Fatalf("Failed to get shop: %v", err)
	}
	if s.MonthlyViews != 1 {
		t.Errorf("shutdown flush lost the pending beacon, views = %d", s.MonthlyViews)
	}
}

func TestWorker_ShutdownDrainsQueuedBeacons(t *testing.T) {
	db := setupTestDB(t)
	shop := "demo.myshopify.com"
	if _, err := db.EnsureShop(shop); err != nil {
		t.Fatalf("Failed to ensure shop: %v", err)
	}

	queue := NewQueue(16)
	worker := NewWorkerWithConfig(db, nil, queue, 2, time.Minute)

	// Accepted beacons still sitting in the queue at cancel time must reach
	// the final flush, not be abandoned with the channel.
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		if !queue.Enqueue(models.ViewEvent{Shop: shop, TimerID: "t-1", OccurredAt: now}) {
			t.Fatalf("enqueue %d failed", i)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}

	s, err := db.GetShop(shop)
	if err != nil {
		t.Fatalf("Failed to get shop: %v", err)
	}
	if s.MonthlyViews != 5 {
		t.Errorf("shutdown drain lost beacons, views = %d, want 5", s.MonthlyViews)
	}
	if len(queue.ch) != 0 {
		t.Errorf("queue still holds %d beacons after shutdown", len(queue.ch))
	}
}
