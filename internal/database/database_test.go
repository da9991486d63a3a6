package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"urgency-timer-api/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(filepath.Join(t.TempDir(), "timers_test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func sampleTimer(shop string) models.Timer {
	now := time.Now().UTC().Truncate(time.Second)
	return models.Timer{
		ID:               uuid.New().String(),
		Shop:             shop,
		Name:             "Spring sale",
		Type:             models.PlacementProductPage,
		Title:            "Sale ends soon",
		TimerType:        models.TimerTypeFixed,
		FixedMinutes:     30,
		OnExpiry:         models.OnExpiryUnpublish,
		DaysLabel:        "Days",
		HoursLabel:       "Hrs",
		MinutesLabel:     "Mins",
		SecondsLabel:     "Secs",
		ProductSelection: models.ProductsAll,
		Geolocation:      models.GeoAllWorld,
		IsPublished:      true,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestUpsertAndGetTimer(t *testing.T) {
	db := setupTestDB(t)

	timer := sampleTimer("demo.myshopify.com")
	timer.Countries = []string{"US", "CA"}
	timer.SelectedProducts = []string{"p1"}
	timer.PlacementConfig.SpecificPages = []string{"/pages/deal"}

	if err := db.UpsertTimer(timer); err != nil {
		t.Fatalf("Failed to upsert timer: %v", err)
	}

	got, err := db.GetTimer(timer.ID)
	if err != nil {
		t.Fatalf("Failed to get timer: %v", err)
	}

	if got.Name != timer.Name || got.Shop != timer.Shop || got.Type != timer.Type {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if len(got.Countries) != 2 || got.Countries[0] != "US" {
		t.Errorf("countries not preserved: %v", got.Countries)
	}
	if len(got.PlacementConfig.SpecificPages) != 1 {
		t.Errorf("placement config not preserved: %+v", got.PlacementConfig)
	}

	// Upsert with the same id replaces
	timer.Title = "Last chance"
	if err := db.UpsertTimer(timer); err != nil {
		t.Fatalf("Failed to re-upsert timer: %v", err)
	}
	got, err = db.GetTimer(timer.ID)
	if err != nil {
		t.Fatalf("Failed to get timer after update: %v", err)
	}
	if got.Title != "Last chance" {
		t.Errorf("update not applied, title = %q", got.Title)
	}
}

func TestGetTimer_NotFound(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.GetTimer(uuid.New().String()); err != sql.ErrNoRows {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestDeleteTimer(t *testing.T) {
	db := setupTestDB(t)

	timer := sampleTimer("demo.myshopify.com")
	if err := db.UpsertTimer(timer); err != nil {
		t.Fatalf("Failed to upsert timer: %v", err)
	}
	if err := db.DeleteTimer(timer.ID); err != nil {
		t.Fatalf("Failed to delete timer: %v", err)
	}
	if _, err := db.GetTimer(timer.ID); err != sql.ErrNoRows {
		t.Errorf("deleted timer still readable: %v", err)
	}
}

func TestListAndCountTimers(t *testing.T) {
	db := setupTestDB(t)

	for i := 0; i < 3; i++ {
		timer := sampleTimer("demo.myshopify.com")
		timer.CreatedAt = timer.CreatedAt.Add(time.Duration(i) * time.Minute)
		if err := db.UpsertTimer(timer); err != nil {
			t.Fatalf("Failed to upsert timer %d: %v", i, err)
		}
	}
	other := sampleTimer("other.myshopify.com")
	if err := db.UpsertTimer(other); err != nil {
		t.Fatalf("Failed to upsert other shop timer: %v", err)
	}

	timers, err := db.ListTimers("demo.myshopify.com")
	if err != nil {
		t.Fatalf("Failed to list timers: %v", err)
	}
	if len(timers) != 3 {
		t.Errorf("expected 3 timers, got %d", len(timers))
	}

	count, err := db.CountTimers("demo.myshopify.com")
	if err != nil {
		t.Fatalf("Failed to count timers: %v", err)
	}
	if count != 3 {
		t.Errorf("expected count 3, got %d", count)
	}
}

func TestGetCandidateTimers(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now().UTC()
	shop := "demo.myshopify.com"

	published := sampleTimer(shop)
	published.Name = "published"

	unpublished := sampleTimer(shop)
	unpublished.Name = "unpublished"
	unpublished.IsPublished = false

	scheduled := sampleTimer(shop)
	scheduled.Name = "scheduled"
	future := now.Add(time.Hour)
	scheduled.StartsAt = &future

	bar := sampleTimer(shop)
	bar.Name = "bar"
	bar.Type = models.PlacementTopBottomBar

	for _, timer := range []models.Timer{published, unpublished, scheduled, bar} {
		if err := db.UpsertTimer(timer); err != nil {
			t.Fatalf("Failed to upsert %s: %v", timer.Name, err)
		}
	}

	// No placement filter: published and bar, not unpublished or scheduled
	candidates, err := db.GetCandidateTimers(shop, "", now)
	if err != nil {
		t.Fatalf("Failed to get candidates: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}

	// Placement filter narrows to the bar
	candidates, err = db.GetCandidateTimers(shop, models.PlacementTopBottomBar, now)
	if err != nil {
		t.Fatalf("Failed to get bar candidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Name != "bar" {
		t.Fatalf("expected only the bar timer, got %+v", candidates)
	}

	// Scheduled timer becomes a candidate once its start passes
	candidates, err = db.GetCandidateTimers(shop, "", now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Failed to get candidates after start: %v", err)
	}
	if len(candidates) != 3 {
		t.Errorf("expected 3 candidates after start, got %d", len(candidates))
	}
}

func TestInsertViewEvents(t *testing.T) {
	db := setupTestDB(t)

	events := []models.ViewEvent{
		{Shop: "demo.myshopify.com", TimerID: "t1", PageType: "product", OccurredAt: time.Now().UTC()},
		{Shop: "demo.myshopify.com", TimerID: "t1", PageType: "home", OccurredAt: time.Now().UTC()},
	}

	inserted, err := db.InsertViewEvents(events)
	if err != nil {
		t.Fatalf("Failed to insert view events: %v", err)
	}
	if inserted != 2 {
		t.Errorf("expected 2 inserted, got %d", inserted)
	}

	if inserted, err := db.InsertViewEvents(nil); err != nil || inserted != 0 {
		t.Errorf("empty batch should be a no-op, got %d, %v", inserted, err)
	}
}

func TestEnsureShop(t *testing.T) {
	db := setupTestDB(t)
	domain := "demo.myshopify.com"

	shop, err := db.EnsureShop(domain)
	if err != nil {
		t.Fatalf("Failed to ensure shop: %v", err)
	}
	if shop.CurrentPlan != "free" || shop.BillingStatus != "active" {
		t.Errorf("new shop should start free and active: %+v", shop)
	}

	// Second call returns the same record
	again, err := db.EnsureShop(domain)
	if err != nil {
		t.Fatalf("Failed to re-ensure shop: %v", err)
	}
	if again.ShopDomain != shop.ShopDomain || again.CreatedAt != shop.CreatedAt {
		t.Errorf("ensure should be idempotent: %+v vs %+v", again, shop)
	}
}

func TestShopViewCounters(t *testing.T) {
	db := setupTestDB(t)
	domain := "demo.myshopify.com"

	if _, err := db.EnsureShop(domain); err != nil {
		t.Fatalf("Failed to ensure shop: %v", err)
	}

	if err := db.IncrementShopViews(domain, 42); err != nil {
		t.Fatalf("Failed to increment views: %v", err)
	}
	shop, err := db.GetShop(domain)
	if err != nil {
		t.Fatalf("Failed to get shop: %v", err)
	}
	if shop.MonthlyViews != 42 {
		t.Errorf("expected 42 views, got %d", shop.MonthlyViews)
	}

	if err := db.ResetMonthlyViews(domain); err != nil {
		t.Fatalf("Failed to reset views: %v", err)
	}
	shop, err = db.GetShop(domain)
	if err != nil {
		t.Fatalf("Failed to get shop after reset: %v", err)
	}
	if shop.MonthlyViews != 0 {
		t.Errorf("reset should zero the counter, got %d", shop.MonthlyViews)
	}
	if !shop.ViewsResetAt.After(time.Now().UTC().AddDate(0, 0, 29)) {
		t.Errorf("next reset should be ~30 days out, got %v", shop.ViewsResetAt)
	}
}

func TestScanTimer_MalformedListColumn(t *testing.T) {
	db := setupTestDB(t)

	timer := sampleTimer("demo.myshopify.com")
	if err := db.UpsertTimer(timer); err != nil {
		t.Fatalf("Failed to upsert timer: %v", err)
	}

	// Corrupt a JSON list column directly
	if _, err := db.conn.Exec(`UPDATE timers SET countries = 'oops' WHERE id = ?`, timer.ID); err != nil {
		t.Fatalf("Failed to corrupt column: %v", err)
	}

	got, err := db.GetTimer(timer.ID)
	if err != nil {
		t.Fatalf("Malformed list column should not fail the scan: %v", err)
	}
	if got.Countries != nil {
		t.Errorf("malformed list should coerce to nil, got %v", got.Countries)
	}
}
