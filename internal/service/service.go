package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"urgency-timer-api/internal/cache"
	"urgency-timer-api/internal/database"
	"urgency-timer-api/internal/eligibility"
	"urgency-timer-api/internal/events"
	"urgency-timer-api/internal/features"
	"urgency-timer-api/internal/models"
	"urgency-timer-api/internal/validation"
	"urgency-timer-api/internal/views"
)

// ErrTimerNotFound is returned when a timer id does not exist.
var ErrTimerNotFound = errors.New("timer not found")

// PlanLimitError is returned when an operation would exceed the shop's plan.
type PlanLimitError struct {
	Message string
}

func (e *PlanLimitError) Error() string { return e.Message }

// Service provides business logic for the urgency timer API.
type Service struct {
	db        *database.DB
	cache     cache.Cache     // optional
	events    *events.Manager // optional
	flags     *features.Manager
	viewQueue *views.Queue // optional
	clock     clockwork.Clock
}

// Options configures optional service collaborators.
type Options struct {
	Cache     cache.Cache
	Events    *events.Manager
	Flags     *features.Manager
	ViewQueue *views.Queue
	Clock     clockwork.Clock
}

// NewService creates a new service instance.
func NewService(db *database.DB) *Service {
	return NewServiceWithOptions(db, Options{})
}

// NewServiceWithOptions creates a new service instance with collaborators.
func NewServiceWithOptions(db *database.DB, opts Options) *Service {
	svc := &Service{
		db:        db,
		cache:     opts.Cache,
		events:    opts.Events,
		flags:     opts.Flags,
		viewQueue: opts.ViewQueue,
		clock:     opts.Clock,
	}
	if svc.flags == nil {
		svc.flags = features.Defaults()
	}
	if svc.clock == nil {
		svc.clock = clockwork.NewRealClock()
	}
	return svc
}

// ResolveTimers returns the timers a storefront visitor may currently see.
// Shop is the only required context field; everything else defaults toward
// the per-predicate rules in the eligibility package.
func (s *Service) ResolveTimers(ctx context.Context, vctx models.VisitorContext) (models.ResolveResponse, error) {
	if err := validation.ValidateShopDomain(vctx.Shop); err != nil {
		return models.ResolveResponse{}, err
	}

	now := s.clock.Now().UTC()

	candidates, err := s.candidateTimers(ctx, vctx.Shop, vctx.Type, now)
	if err != nil {
		return models.ResolveResponse{}, err
	}

	resolved := eligibility.Resolve(candidates, vctx, now)

	if s.events != nil {
		s.events.PublishTimersResolved(ctx, vctx.Shop, vctx.PageType, len(resolved))
	}

	return models.ResolveResponse{Timers: resolved}, nil
}

// candidateTimers reads the published/active/started candidate set, through
// the short-TTL cache when enabled. Eligibility re-checks every predicate on
// cached rows, so the cache can delay a newly published timer by its TTL but
// can never surface an ineligible one.
func (s *Service) candidateTimers(ctx context.Context, shop string, placement models.Placement, now time.Time) ([]models.Timer, error) {
	useCache := s.cache != nil && s.flags.IsEnabled(features.FeatureCandidateCache)
	key := cache.CandidateKey(shop, string(placement))

	if useCache {
		var cached []models.Timer
		if err := cache.GetJSON(ctx, s.cache, key, &cached); err == nil {
			return cached, nil
		}
	}

	candidates, err := s.db.GetCandidateTimers(shop, placement, now)
	if err != nil {
		return nil, err
	}

	if useCache {
		if err := cache.SetJSON(ctx, s.cache, key, candidates, cache.CandidateTTL); err != nil {
			log.Debug().Err(err).Str("shop", shop).Msg("candidate cache write failed")
		}
	}

	return candidates, nil
}

// CreateTimer stores a new timer after defaulting, validation and plan
// checks, and returns it with its generated id.
func (s *Service) CreateTimer(ctx context.Context, t models.Timer) (models.Timer, error) {
	// Ids are server-assigned. A client-supplied id must never reach the
	// upsert path, where it could replace another shop's timer.
	t.ID = uuid.New().String()

	now := s.clock.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.IsActive = true
	applyTimerDefaults(&t)

	if err := validation.ValidateTimer(t); err != nil {
		return models.Timer{}, err
	}

	if err := s.checkCreateLimits(t.Shop); err != nil {
		return models.Timer{}, err
	}

	if err := s.db.UpsertTimer(t); err != nil {
		return models.Timer{}, err
	}

	s.invalidateCandidates(ctx, t.Shop, t.Type)

	if s.events != nil {
		s.events.PublishTimerSaved(ctx, t)
	}

	return t, nil
}

// UpdateTimer replaces an existing timer's configuration.
func (s *Service) UpdateTimer(ctx context.Context, t models.Timer) (models.Timer, error) {
	existing, err := s.db.GetTimer(t.ID)
	if err == sql.ErrNoRows {
		return models.Timer{}, ErrTimerNotFound
	}
	if err != nil {
		return models.Timer{}, err
	}

	t.Shop = existing.Shop
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = s.clock.Now().UTC()
	t.IsActive = existing.IsActive
	applyTimerDefaults(&t)

	if err := validation.ValidateTimer(t); err != nil {
		return models.Timer{}, err
	}

	if t.IsPublished && !existing.IsPublished {
		if err := s.checkPublishLimits(t.Shop); err != nil {
			return models.Timer{}, err
		}
	}

	if err := s.db.UpsertTimer(t); err != nil {
		return models.Timer{}, err
	}

	s.invalidateCandidates(ctx, t.Shop, t.Type)
	if existing.Type != t.Type {
		s.invalidateCandidates(ctx, t.Shop, existing.Type)
	}

	if s.events != nil {
		s.events.PublishTimerSaved(ctx, t)
	}

	return t, nil
}

// DeleteTimer removes a timer.
func (s *Service) DeleteTimer(ctx context.Context, id string) error {
	existing, err := s.db.GetTimer(id)
	if err == sql.ErrNoRows {
		return ErrTimerNotFound
	}
	if err != nil {
		return err
	}

	if err := s.db.DeleteTimer(id); err != nil {
		return err
	}

	s.invalidateCandidates(ctx, existing.Shop, existing.Type)

	if s.events != nil {
		s.events.PublishTimerDeleted(ctx, existing.Shop, id)
	}

	return nil
}

// GetTimer returns one timer by id.
func (s *Service) GetTimer(ctx context.Context, id string) (models.Timer, error) {
	t, err := s.db.GetTimer(id)
	if err == sql.ErrNoRows {
		return models.Timer{}, ErrTimerNotFound
	}
	return t, err
}

// ListTimers returns all of a shop's timers, most recent first.
func (s *Service) ListTimers(ctx context.Context, shop string) ([]models.Timer, error) {
	if err := validation.ValidateShopDomain(shop); err != nil {
		return nil, err
	}
	return s.db.ListTimers(shop)
}

// RecordView accepts a storefront view beacon. Ingestion is best-effort: a
// full queue drops the beacon rather than blocking the request.
func (s *Service) RecordView(ctx context.Context, ev models.ViewEvent) error {
	if err := validation.ValidateShopDomain(ev.Shop); err != nil {
		return err
	}
	if strings.TrimSpace(ev.TimerID) == "" {
		return &validation.ValidationError{Field: "timerId", Message: "is required"}
	}

	if !s.flags.IsEnabled(features.FeatureViewTracking) || s.viewQueue == nil {
		return nil
	}

	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.clock.Now().UTC()
	}

	if !s.viewQueue.Enqueue(ev) {
		log.Warn().Str("shop", ev.Shop).Msg("view queue full, dropping beacon")
		return nil
	}

	if s.events != nil {
		s.events.PublishTimerViewed(ctx, ev)
	}

	return nil
}

// EmailTimerView returns the resolved view an email GIF renders from, along
// with the service-clock instant the render should anchor at. Only published,
// active, started email-placement timers qualify; an expired countdown still
// renders (at zero) when its expiry behavior keeps it shown.
func (s *Service) EmailTimerView(ctx context.Context, id string) (models.ResolvedTimerView, time.Time, error) {
	now := s.clock.Now().UTC()

	if !s.flags.IsEnabled(features.FeatureEmailGIF) {
		return models.ResolvedTimerView{}, now, ErrTimerNotFound
	}

	t, err := s.db.GetTimer(id)
	if err == sql.ErrNoRows {
		return models.ResolvedTimerView{}, now, ErrTimerNotFound
	}
	if err != nil {
		return models.ResolvedTimerView{}, now, err
	}

	if !t.IsPublished || !t.IsActive || t.Type != models.PlacementEmail || !eligibility.HasStarted(t, now) {
		return models.ResolvedTimerView{}, now, ErrTimerNotFound
	}

	ended := false
	if eligibility.IsExpired(t, now) {
		if t.OnExpiry != models.OnExpiryKeep {
			return models.ResolvedTimerView{}, now, ErrTimerNotFound
		}
		ended = true
	}

	return eligibility.ViewOf(t, ended), now, nil
}

// GetShopUsage reports a shop's plan consumption, creating the shop record on
// first contact.
func (s *Service) GetShopUsage(ctx context.Context, shopDomain string) (models.ShopUsage, error) {
	if err := validation.ValidateShopDomain(shopDomain); err != nil {
		return models.ShopUsage{}, err
	}

	shop, err := s.db.EnsureShop(shopDomain)
	if err != nil {
		return models.ShopUsage{}, err
	}

	count, err := s.db.CountTimers(shopDomain)
	if err != nil {
		return models.ShopUsage{}, err
	}

	limits := LimitsFor(shop.CurrentPlan)

	return models.ShopUsage{
		ShopDomain:     shop.ShopDomain,
		CurrentPlan:    shop.CurrentPlan,
		TimerCount:     count,
		TimerLimit:     limits.Timers,
		MonthlyViews:   shop.MonthlyViews,
		ViewLimit:      limits.MonthlyViews,
		ViewsRemaining: limits.ViewsRemaining(shop.MonthlyViews),
		ViewsResetAt:   shop.ViewsResetAt,
	}, nil
}

func (s *Service) checkCreateLimits(shopDomain string) error {
	if !s.flags.IsEnabled(features.FeaturePlanLimits) {
		return nil
	}

	shop, err := s.db.EnsureShop(shopDomain)
	if err != nil {
		return fmt.Errorf("failed to load shop: %w", err)
	}

	limits := LimitsFor(shop.CurrentPlan)

	if limits.Exceeded(shop.MonthlyViews) {
		return &PlanLimitError{
			Message: "monthly view limit reached for the current plan, upgrade to continue",
		}
	}

	count, err := s.db.CountTimers(shopDomain)
	if err != nil {
		return fmt.Errorf("failed to count timers: %w", err)
	}

	if limits.TimersExceeded(count) {
		return &PlanLimitError{
			Message: fmt.Sprintf("the %s plan allows at most %d timers", shop.CurrentPlan, limits.Timers),
		}
	}

	return nil
}

// checkPublishLimits gates the unpublished to published transition. Timer
// count is not rechecked here because the timer already exists.
func (s *Service) checkPublishLimits(shopDomain string) error {
	if !s.flags.IsEnabled(features.FeaturePlanLimits) {
		return nil
	}

	shop, err := s.db.EnsureShop(shopDomain)
	if err != nil {
		return fmt.Errorf("failed to load shop: %w", err)
	}

	if LimitsFor(shop.CurrentPlan).Exceeded(shop.MonthlyViews) {
		return &PlanLimitError{
			Message: "monthly view limit reached for the current plan, upgrade to continue",
		}
	}

	return nil
}

func (s *Service) invalidateCandidates(ctx context.Context, shop string, placement models.Placement) {
	if s.cache == nil {
		return
	}
	// Both the type-narrowed key and the catch-all key may hold this timer.
	_ = s.cache.Delete(ctx, cache.CandidateKey(shop, string(placement)))
	_ = s.cache.Delete(ctx, cache.CandidateKey(shop, ""))
}

func applyTimerDefaults(t *models.Timer) {
	if t.TimerType == "" {
		t.TimerType = models.TimerTypeCountdown
	}
	if t.OnExpiry == "" {
		t.OnExpiry = models.OnExpiryUnpublish
	}
	if t.ProductSelection == "" {
		t.ProductSelection = models.ProductsAll
	}
	if t.Geolocation == "" {
		t.Geolocation = models.GeoAllWorld
	}
	if t.DaysLabel == "" {
		t.DaysLabel = "Days"
	}
	if t.HoursLabel == "" {
		t.HoursLabel = "Hrs"
	}
	if t.MinutesLabel == "" {
		t.MinutesLabel = "Mins"
	}
	if t.SecondsLabel == "" {
		t.SecondsLabel = "Secs"
	}
}
