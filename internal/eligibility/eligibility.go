package eligibility

import (
	"strings"
	"time"

	"urgency-timer-api/internal/models"
)

// Evaluate runs the full predicate pipeline for a single timer against a
// visitor context. It reports whether the timer is eligible and, when it is,
// whether it has already ended server-side (onExpiry=keep countdowns past
// their deadline).
func Evaluate(t models.Timer, ctx models.VisitorContext, now time.Time) (eligible bool, ended bool) {
	if !t.IsPublished || !t.IsActive {
		return false, false
	}

	if ctx.Type != "" && t.Type != ctx.Type {
		return false, false
	}

	if !HasStarted(t, now) {
		return false, false
	}

	expired := IsExpired(t, now)
	if expired && t.OnExpiry != models.OnExpiryKeep {
		return false, false
	}

	if !MatchesGeo(t, ctx.Country) {
		return false, false
	}

	if !MatchesPageSelection(t, ctx.PageType, ctx.PageURL) {
		return false, false
	}

	if !MatchesProductSelection(t, ctx.ProductID, ctx.CollectionIDs, ctx.ProductTags) {
		return false, false
	}

	return true, expired
}

// Resolve filters candidates down to the timers the visitor may see and
// shapes them into storefront views. Candidates are expected to already be
// published, active and ordered; Resolve re-checks everything anyway so a
// stale snapshot cannot leak an ineligible timer.
func Resolve(candidates []models.Timer, ctx models.VisitorContext, now time.Time) []models.ResolvedTimerView {
	views := make([]models.ResolvedTimerView, 0, len(candidates))
	for _, t := range candidates {
		eligible, ended := Evaluate(t, ctx, now)
		if !eligible {
			continue
		}
		views = append(views, ViewOf(t, ended))
	}
	return views
}

// HasStarted reports whether the timer's schedule has begun. A nil startsAt
// means the timer was never scheduled and is always considered started.
func HasStarted(t models.Timer, now time.Time) bool {
	return t.StartsAt == nil || !t.StartsAt.After(now)
}

// IsExpired reports server-side expiry. Only countdown timers with a
// deadline can expire; a countdown without an endDate cannot end, and
// fixed-duration timers expire purely client-side.
func IsExpired(t models.Timer, now time.Time) bool {
	if t.TimerType != models.TimerTypeCountdown {
		return false
	}
	if t.EndDate == nil {
		return false
	}
	return t.EndDate.Before(now)
}

// MatchesGeo applies geolocation targeting. An empty mode defaults to
// all-world; unknown modes pass.
func MatchesGeo(t models.Timer, visitorCountry string) bool {
	switch t.Geolocation {
	case "", models.GeoAllWorld:
		return true
	case models.GeoSpecificCountries:
		if visitorCountry == "" {
			return false
		}
		for _, c := range t.Countries {
			if strings.EqualFold(c, visitorCountry) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// MatchesPageSelection applies page placement targeting, chiefly for bar and
// landing timers. An unset selection passes and defers to product targeting;
// unknown modes pass.
func MatchesPageSelection(t models.Timer, pageType, pageURL string) bool {
	switch t.PageSelection {
	case "":
		return true
	case models.PageEvery, models.PageCustom:
		return true
	case models.PageHome:
		return pageType == "home"
	case models.PageAllProducts:
		return pageType == "product"
	case models.PageAllCollections:
		return pageType == "collection"
	case models.PageCart:
		return pageType == "cart"
	case models.PageSpecificProducts, models.PageSpecificCollections, models.PageSpecific:
		return matchesSpecificPages(t.PlacementConfig.SpecificPages, pageURL)
	default:
		return true
	}
}

// matchesSpecificPages matches the visitor URL against configured prefixes.
// An unconfigured specific-pages mode matches nothing (fail closed).
func matchesSpecificPages(pages []string, pageURL string) bool {
	url := strings.ToLower(pageURL)
	for _, p := range pages {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if url == p || strings.HasPrefix(url, p) {
			return true
		}
	}
	return false
}

// MatchesProductSelection applies product/collection/tag targeting. The
// exclusion list wins over every mode; an unset mode defaults to all and
// unknown modes pass.
func MatchesProductSelection(t models.Timer, productID string, collectionIDs, productTags []string) bool {
	if productID != "" && contains(t.ExcludedProducts, productID) {
		return false
	}

	switch t.ProductSelection {
	case "", models.ProductsAll, models.ProductsCustom:
		return true
	case models.ProductsSpecific:
		return productID != "" && contains(t.SelectedProducts, productID)
	case models.ProductsCollections:
		return intersects(t.SelectedCollections, collectionIDs)
	case models.ProductsTags:
		return intersectsFold(t.ProductTags, productTags)
	default:
		return true
	}
}

// ViewOf shapes a timer into its storefront view.
func ViewOf(t models.Timer, ended bool) models.ResolvedTimerView {
	return models.ResolvedTimerView{
		ID:         t.ID,
		Type:       t.Type,
		Name:       t.Name,
		Title:      t.Title,
		Subheading: t.Subheading,

		TimerType:       t.TimerType,
		EndDate:         t.EndDate,
		IsRecurring:     t.IsRecurring,
		RecurringConfig: t.RecurringConfig,
		FixedMinutes:    t.FixedMinutes,

		DaysLabel:    t.DaysLabel,
		HoursLabel:   t.HoursLabel,
		MinutesLabel: t.MinutesLabel,
		SecondsLabel: t.SecondsLabel,

		StartsAt: t.StartsAt,
		OnExpiry: t.OnExpiry,
		Ended:    ended,

		CTAType:    t.CTAType,
		ButtonText: t.ButtonText,
		ButtonLink: t.ButtonLink,

		DesignConfig: t.DesignConfig,

		PageSelection:    t.PageSelection,
		ProductSelection: t.ProductSelection,
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

func intersectsFold(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[strings.ToLower(v)] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[strings.ToLower(v)]; ok {
			return true
		}
	}
	return false
}
