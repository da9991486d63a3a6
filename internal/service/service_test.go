package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"urgency-timer-api/internal/cache"
	"urgency-timer-api/internal/database"
	"urgency-timer-api/internal/models"
	"urgency-timer-api/internal/validation"
	"urgency-timer-api/internal/views"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "service_test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func timerInput(shop string) models.Timer {
	return models.Timer{
		Shop:         shop,
		Name:         "Flash sale",
		Type:         models.PlacementProductPage,
		Title:        "Sale ends soon",
		TimerType:    models.TimerTypeFixed,
		FixedMinutes: 30,
		IsPublished:  true,
	}
}

func TestCreateTimer_AppliesDefaults(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)

	created, err := svc.CreateTimer(context.Background(), timerInput("demo.myshopify.com"))
	if err != nil {
		t.Fatalf("Failed to create timer: %v", err)
	}

	if created.ID == "" {
		t.Error("expected a generated id")
	}
	if !created.IsActive {
		t.Error("new timers should be active")
	}
	if created.OnExpiry != models.OnExpiryUnpublish {
		t.Errorf("onExpiry default = %q, want unpublish", created.OnExpiry)
	}
	if created.ProductSelection != models.ProductsAll {
		t.Errorf("productSelection default = %q, want all", created.ProductSelection)
	}
	if created.Geolocation != models.GeoAllWorld {
		t.Errorf("geolocation default = %q, want all-world", created.Geolocation)
	}
	if created.DaysLabel != "Days" || created.HoursLabel != "Hrs" ||
		created.MinutesLabel != "Mins" || created.SecondsLabel != "Secs" {
		t.Errorf("unit label defaults not applied: %+v", created)
	}
}

func TestCreateTimer_AssignsFreshID(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	victim, err := svc.CreateTimer(ctx, timerInput("victim.myshopify.com"))
	if err != nil {
		t.Fatalf("Failed to create timer: %v", err)
	}

	hijack := timerInput("attacker.myshopify.com")
	hijack.ID = victim.ID
	hijack.Title = "Hijacked"

	created, err := svc.CreateTimer(ctx, hijack)
	if err != nil {
		t.Fatalf("Failed to create timer: %v", err)
	}
	if created.ID == victim.ID {
		t.Fatal("create must not honor a client-supplied id")
	}

	got, err := svc.GetTimer(ctx, victim.ID)
	if err != nil {
		t.Fatalf("Failed to load timer: %v", err)
	}
	if got.Shop != "victim.myshopify.com" || got.Title != victim.Title {
		t.Errorf("existing timer was overwritten: shop=%q title=%q", got.Shop, got.Title)
	}
}

func TestCreateTimer_RejectsInvalid(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)

	bad := timerInput("demo.myshopify.com")
	bad.Title = ""

	_, err := svc.CreateTimer(context.Background(), bad)
	var verr *validation.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if verr.Field != "title" {
		t.Errorf("expected title error, got field %q", verr.Field)
	}
}

func TestCreateTimer_FreePlanTimerLimit(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	shop := "demo.myshopify.com"

	// Free plan allows two timers
	for i := 0; i < 2; i++ {
		if _, err := svc.CreateTimer(ctx, timerInput(shop)); err != nil {
			t.Fatalf("Failed to create timer %d: %v", i, err)
		}
	}

	_, err := svc.CreateTimer(ctx, timerInput(shop))
	var perr *PlanLimitError
	if !errors.As(err, &perr) {
		t.Fatalf("expected plan limit error, got %v", err)
	}
}

func TestCreateTimer_ViewLimitBlocksCreation(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	shop := "demo.myshopify.com"

	if _, err := db.EnsureShop(shop); err != nil {
		t.Fatalf("Failed to ensure shop: %v", err)
	}
	// Blow past the free plan's monthly views
	if err := db.IncrementShopViews(shop, 1001); err != nil {
		t.Fatalf("Failed to bump views: %v", err)
	}

	_, err := svc.CreateTimer(ctx, timerInput(shop))
	var perr *PlanLimitError
	if !errors.As(err, &perr) {
		t.Fatalf("expected plan limit error, got %v", err)
	}
}

func TestUpdateTimer_ViewLimitBlocksPublishing(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	shop := "demo.myshopify.com"

	draft := timerInput(shop)
	draft.IsPublished = false
	created, err := svc.CreateTimer(ctx, draft)
	if err != nil {
		t.Fatalf("Failed to create timer: %v", err)
	}

	if err := db.IncrementShopViews(shop, 1001); err != nil {
		t.Fatalf("Failed to bump views: %v", err)
	}

	created.IsPublished = true
	_, err = svc.UpdateTimer(ctx, created)
	var perr *PlanLimitError
	if !errors.As(err, &perr) {
		t.Fatalf("expected plan limit error on publish, got %v", err)
	}

	// Editing the timer while it stays a draft is still allowed.
	created.IsPublished = false
	created.Title = "Sale ends very soon"
	if _, err := svc.UpdateTimer(ctx, created); err != nil {
		t.Fatalf("draft update should not be limit gated: %v", err)
	}
}

func TestUpdateTimer_PreservesIdentityFields(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	created, err := svc.CreateTimer(ctx, timerInput("demo.myshopify.com"))
	if err != nil {
		t.Fatalf("Failed to create timer: %v", err)
	}

	update := created
	update.Shop = "attacker.myshopify.com"
	update.Title = "New title"

	updated, err := svc.UpdateTimer(ctx, update)
	if err != nil {
		t.Fatalf("Failed to update timer: %v", err)
	}
	if updated.Shop != "demo.myshopify.com" {
		t.Errorf("update must not move a timer between shops, got %q", updated.Shop)
	}
	if updated.Title != "New title" {
		t.Errorf("title not updated: %q", updated.Title)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("createdAt must be preserved")
	}
}

func TestUpdateTimer_NotFound(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)

	missing := timerInput("demo.myshopify.com")
	missing.ID = "7f9c24e5-1b3a-4f6d-8e2a-9c5b7d1a3e8f"

	if _, err := svc.UpdateTimer(context.Background(), missing); !errors.Is(err, ErrTimerNotFound) {
		t.Fatalf("expected ErrTimerNotFound, got %v", err)
	}
}

func TestDeleteTimer_NotFound(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)

	if err := svc.DeleteTimer(context.Background(), "7f9c24e5-1b3a-4f6d-8e2a-9c5b7d1a3e8f"); !errors.Is(err, ErrTimerNotFound) {
		t.Fatalf("expected ErrTimerNotFound, got %v", err)
	}
}

func TestResolveTimers_EndToEnd(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	shop := "demo.myshopify.com"

	visible := timerInput(shop)
	if _, err := svc.CreateTimer(ctx, visible); err != nil {
		t.Fatalf("Failed to create visible timer: %v", err)
	}

	draft := timerInput(shop)
	draft.IsPublished = false
	if _, err := svc.CreateTimer(ctx, draft); err != nil {
		t.Fatalf("Failed to create draft timer: %v", err)
	}

	resp, err := svc.ResolveTimers(ctx, models.VisitorContext{
		Shop:     shop,
		Type:     models.PlacementProductPage,
		PageType: "product",
	})
	if err != nil {
		t.Fatalf("Failed to resolve timers: %v", err)
	}
	if len(resp.Timers) != 1 {
		t.Fatalf("expected 1 resolved timer, got %d", len(resp.Timers))
	}
	if resp.Timers[0].Title != "Sale ends soon" {
		t.Errorf("unexpected resolved timer: %+v", resp.Timers[0])
	}
}

func TestResolveTimers_InvalidShop(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)

	_, err := svc.ResolveTimers(context.Background(), models.VisitorContext{Shop: "not a domain"})
	var verr *validation.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestResolveTimers_CacheInvalidatedOnSave(t *testing.T) {
	db := setupTestDB(t)
	mem := cache.NewInMemoryCache()
	svc := NewServiceWithOptions(db, Options{Cache: mem})
	ctx := context.Background()
	shop := "demo.myshopify.com"
	vctx := models.VisitorContext{Shop: shop, Type: models.PlacementProductPage, PageType: "product"}

	// Prime the cache with an empty candidate set
	if resp, err := svc.ResolveTimers(ctx, vctx); err != nil || len(resp.Timers) != 0 {
		t.Fatalf("expected empty resolve, got %v, %v", resp, err)
	}

	// Creating a timer must bust the cached set immediately
	if _, err := svc.CreateTimer(ctx, timerInput(shop)); err != nil {
		t.Fatalf("Failed to create timer: %v", err)
	}

	resp, err := svc.ResolveTimers(ctx, vctx)
	if err != nil {
		t.Fatalf("Failed to resolve after create: %v", err)
	}
	if len(resp.Timers) != 1 {
		t.Fatalf("cache not invalidated, got %d timers", len(resp.Timers))
	}
}

func TestResolveTimers_StaleCacheCannotLeakExpired(t *testing.T) {
	db := setupTestDB(t)
	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	mem := cache.NewInMemoryCache()
	svc := NewServiceWithOptions(db, Options{Cache: mem, Clock: clk})
	ctx := context.Background()
	shop := "demo.myshopify.com"
	vctx := models.VisitorContext{Shop: shop, Type: models.PlacementProductPage, PageType: "product"}

	input := timerInput(shop)
	input.TimerType = models.TimerTypeCountdown
	input.FixedMinutes = 0
	end := clk.Now().Add(10 * time.Second)
	input.EndDate = &end

	if _, err := svc.CreateTimer(ctx, input); err != nil {
		t.Fatalf("Failed to create timer: %v", err)
	}

	// Cache the candidate set while the countdown is live
	if resp, err := svc.ResolveTimers(ctx, vctx); err != nil || len(resp.Timers) != 1 {
		t.Fatalf("expected live timer, got %v, %v", resp, err)
	}

	// The countdown expires while the cached set is still fresh
	clk.Advance(time.Minute)

	resp, err := svc.ResolveTimers(ctx, vctx)
	if err != nil {
		t.Fatalf("Failed to resolve after expiry: %v", err)
	}
	if len(resp.Timers) != 0 {
		t.Fatalf("expired timer leaked through a cached candidate set: %+v", resp.Timers)
	}
}

func TestEmailTimerView_UsesServiceClock(t *testing.T) {
	db := setupTestDB(t)
	clk := clockwork.NewFakeClockAt(time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC))
	svc := NewServiceWithOptions(db, Options{Clock: clk})
	ctx := context.Background()

	input := timerInput("demo.myshopify.com")
	input.Type = models.PlacementEmail
	created, err := svc.CreateTimer(ctx, input)
	if err != nil {
		t.Fatalf("Failed to create timer: %v", err)
	}

	view, now, err := svc.EmailTimerView(ctx, created.ID)
	if err != nil {
		t.Fatalf("Failed to resolve email view: %v", err)
	}
	if !now.Equal(clk.Now().UTC()) {
		t.Errorf("render instant = %v, want the service clock's %v", now, clk.Now().UTC())
	}
	if view.ID != created.ID {
		t.Errorf("view id = %q, want %q", view.ID, created.ID)
	}
}

func TestRecordView_QueuesValidBeacons(t *testing.T) {
	db := setupTestDB(t)
	queue := views.NewQueue(4)
	svc := NewServiceWithOptions(db, Options{ViewQueue: queue})
	ctx := context.Background()

	ev := models.ViewEvent{Shop: "demo.myshopify.com", TimerID: "t-1"}
	if err := svc.RecordView(ctx, ev); err != nil {
		t.Fatalf("Failed to record view: %v", err)
	}

	if err := svc.RecordView(ctx, models.ViewEvent{Shop: "demo.myshopify.com"}); err == nil {
		t.Error("beacon without timerId should be rejected")
	}
	if err := svc.RecordView(ctx, models.ViewEvent{TimerID: "t-1"}); err == nil {
		t.Error("beacon without shop should be rejected")
	}
}

func TestRecordView_FullQueueDropsSilently(t *testing.T) {
	db := setupTestDB(t)
	queue := views.NewQueue(1)
	svc := NewServiceWithOptions(db, Options{ViewQueue: queue})
	ctx := context.Background()

	ev := models.ViewEvent{Shop: "demo.myshopify.com", TimerID: "t-1"}
	for i := 0; i < 5; i++ {
		if err := svc.RecordView(ctx, ev); err != nil {
			t.Fatalf("overflowing beacons must not error: %v", err)
		}
	}
}

func TestGetShopUsage(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	shop := "demo.myshopify.com"

	if _, err := svc.CreateTimer(ctx, timerInput(shop)); err != nil {
		t.Fatalf("Failed to create timer: %v", err)
	}

	usage, err := svc.GetShopUsage(ctx, shop)
	if err != nil {
		t.Fatalf("Failed to get usage: %v", err)
	}

	if usage.CurrentPlan != "free" {
		t.Errorf("plan = %q, want free", usage.CurrentPlan)
	}
	if usage.TimerCount != 1 || usage.TimerLimit != 2 {
		t.Errorf("timer usage = %d/%d, want 1/2", usage.TimerCount, usage.TimerLimit)
	}
	if usage.ViewLimit != 1000 {
		t.Errorf("view limit = %d, want 1000", usage.ViewLimit)
	}
	if usage.ViewsRemaining != 1000 {
		t.Errorf("views remaining = %d, want 1000", usage.ViewsRemaining)
	}
}
