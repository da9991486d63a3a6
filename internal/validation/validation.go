package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"urgency-timer-api/internal/models"
)

var (
	uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	shopRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*(\.[a-z0-9-]+)+$`)
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

var validPlacements = map[models.Placement]bool{
	models.PlacementProductPage:  true,
	models.PlacementTopBottomBar: true,
	models.PlacementLandingPage:  true,
	models.PlacementCartPage:     true,
	models.PlacementEmail:        true,
}

var validOnExpiry = map[models.OnExpiry]bool{
	models.OnExpiryUnpublish: true,
	models.OnExpiryHide:      true,
	models.OnExpiryKeep:      true,
}

func ValidateTimer(t models.Timer) error {
	if err := ValidateUUID(t.ID, "id"); err != nil {
		return err
	}

	if err := ValidateShopDomain(t.Shop); err != nil {
		return err
	}

	if strings.TrimSpace(t.Name) == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}

	if strings.TrimSpace(t.Title) == "" {
		return &ValidationError{Field: "title", Message: "is required"}
	}

	if !validPlacements[t.Type] {
		return &ValidationError{
			Field:   "type",
			Message: "must be one of product-page, top-bottom-bar, landing-page, cart-page, email",
		}
	}

	switch t.TimerType {
	case models.TimerTypeCountdown:
		// A countdown without an endDate is allowed; it simply never ends.
	case models.TimerTypeFixed:
		if t.FixedMinutes <= 0 {
			return &ValidationError{Field: "fixedMinutes", Message: "must be positive for fixed timers"}
		}
		if t.FixedMinutes > 60*24*365 {
			return &ValidationError{Field: "fixedMinutes", Message: "cannot exceed one year"}
		}
	default:
		return &ValidationError{Field: "timerType", Message: "must be countdown or fixed"}
	}

	if !validOnExpiry[t.OnExpiry] {
		return &ValidationError{Field: "onExpiry", Message: "must be unpublish, hide or keep"}
	}

	if t.StartsAt != nil && t.EndDate != nil && !t.StartsAt.Before(*t.EndDate) {
		return &ValidationError{Field: "startsAt", Message: "must be before endDate"}
	}

	if t.Geolocation == models.GeoSpecificCountries && len(t.Countries) == 0 {
		return &ValidationError{Field: "countries", Message: "is required for specific-countries geolocation"}
	}

	for i, c := range t.Countries {
		if len(c) != 2 {
			return &ValidationError{
				Field:   fmt.Sprintf("countries[%d]", i),
				Message: "must be a 2-letter ISO country code",
			}
		}
	}

	if t.CTAType == models.CTAButton && (t.ButtonText == "" || t.ButtonLink == "") {
		return &ValidationError{Field: "ctaType", Message: "button CTA requires buttonText and buttonLink"}
	}

	return nil
}

func ValidateShopDomain(shop string) error {
	if shop == "" {
		return &ValidationError{Field: "shop", Message: "is required"}
	}

	shop = strings.ToLower(SanitizeString(shop))

	if !shopRegex.MatchString(shop) {
		return &ValidationError{Field: "shop", Message: "must be a valid shop domain"}
	}

	return nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

func ValidateUUID(id, fieldName string) error {
	if id == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	id = SanitizeString(id)

	if !uuidRegex.MatchString(strings.ToLower(id)) {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be a valid UUID v4",
		}
	}

	return nil
}

func ValidateTimeString(timeStr string) (time.Time, error) {
	if timeStr == "" {
		return time.Time{}, &ValidationError{
			Field:   "time",
			Message: "is required",
		}
	}

	t, err := time.Parse(time.RFC3339, timeStr)
	if err != nil {
		return time.Time{}, &ValidationError{
			Field:   "time",
			Message: "must be a valid RFC3339 timestamp",
		}
	}

	return t, nil
}

// ParseList splits a comma-separated query value, trimming blanks.
func ParseList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
