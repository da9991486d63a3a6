package models

import (
	"encoding/json"
	"time"
)

// TimerType distinguishes absolute-deadline countdowns from fixed-duration
// timers anchored per visitor at first view.
type TimerType string

const (
	TimerTypeCountdown TimerType = "countdown"
	TimerTypeFixed     TimerType = "fixed"
)

// OnExpiry is the configured behavior once a countdown reaches zero.
type OnExpiry string

const (
	OnExpiryUnpublish OnExpiry = "unpublish"
	OnExpiryHide      OnExpiry = "hide"
	OnExpiryKeep      OnExpiry = "keep"
)

// Placement is where a timer is shown on the storefront.
type Placement string

const (
	PlacementProductPage  Placement = "product-page"
	PlacementTopBottomBar Placement = "top-bottom-bar"
	PlacementLandingPage  Placement = "landing-page"
	PlacementCartPage     Placement = "cart-page"
	PlacementEmail        Placement = "email"
)

// Geolocation selects the geographic targeting mode.
type Geolocation string

const (
	GeoAllWorld          Geolocation = "all-world"
	GeoSpecificCountries Geolocation = "specific-countries"
)

// PageSelection selects which storefront pages a bar/landing timer covers.
type PageSelection string

const (
	PageEvery               PageSelection = "every-page"
	PageHome                PageSelection = "home-page"
	PageAllProducts         PageSelection = "all-product-pages"
	PageSpecificProducts    PageSelection = "specific-product-pages"
	PageAllCollections      PageSelection = "all-collection-pages"
	PageSpecificCollections PageSelection = "specific-collection-pages"
	PageSpecific            PageSelection = "specific-pages"
	PageCart                PageSelection = "cart-page"
	PageCustom              PageSelection = "custom"
)

// ProductSelection selects the product targeting mode.
type ProductSelection string

const (
	ProductsAll         ProductSelection = "all"
	ProductsSpecific    ProductSelection = "specific"
	ProductsCollections ProductSelection = "collections"
	ProductsTags        ProductSelection = "tags"
	ProductsCustom      ProductSelection = "custom"
)

// CTAType is the call-to-action style of a rendered timer.
type CTAType string

const (
	CTAButton    CTAType = "button"
	CTAClickable CTAType = "clickable"
	CTANone      CTAType = "none"
)

// PlacementConfig holds extra placement settings. SpecificPages is a list of
// URL prefixes used by the specific-* page selections.
type PlacementConfig struct {
	SpecificPages []string `json:"specificPages,omitempty"`
}

// Timer is a merchant-configured countdown/urgency promotion record. The
// resolver only ever reads it; all writes go through the admin CRUD.
type Timer struct {
	ID    string    `json:"id"`
	Shop  string    `json:"shop"`
	Name  string    `json:"name"`
	Type  Placement `json:"type"`
	Title string    `json:"title"`

	Subheading string `json:"subheading,omitempty"`

	// Timer settings
	TimerType       TimerType       `json:"timerType"`
	EndDate         *time.Time      `json:"endDate,omitempty"`
	FixedMinutes    int             `json:"fixedMinutes,omitempty"`
	IsRecurring     bool            `json:"isRecurring"`
	RecurringConfig json.RawMessage `json:"recurringConfig,omitempty"`
	StartsAt        *time.Time      `json:"startsAt,omitempty"`
	OnExpiry        OnExpiry        `json:"onExpiry"`

	// Unit labels
	DaysLabel    string `json:"daysLabel"`
	HoursLabel   string `json:"hoursLabel"`
	MinutesLabel string `json:"minutesLabel"`
	SecondsLabel string `json:"secondsLabel"`

	// CTA
	CTAType    CTAType `json:"ctaType,omitempty"`
	ButtonText string  `json:"buttonText,omitempty"`
	ButtonLink string  `json:"buttonLink,omitempty"`

	// Styling passthrough for the storefront/email renderer.
	DesignConfig    json.RawMessage `json:"designConfig,omitempty"`
	PlacementConfig PlacementConfig `json:"placementConfig"`

	// Targeting
	PageSelection       PageSelection    `json:"pageSelection,omitempty"`
	ExcludedPages       []string         `json:"excludedPages,omitempty"`
	ProductSelection    ProductSelection `json:"productSelection,omitempty"`
	SelectedProducts    []string         `json:"selectedProducts,omitempty"`
	SelectedCollections []string         `json:"selectedCollections,omitempty"`
	ExcludedProducts    []string         `json:"excludedProducts,omitempty"`
	ProductTags         []string         `json:"productTags,omitempty"`
	Geolocation         Geolocation      `json:"geolocation"`
	Countries           []string         `json:"countries,omitempty"`

	// Lifecycle
	IsPublished bool      `json:"isPublished"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// VisitorContext is one storefront visitor's context for one page load. It is
// never persisted; absent fields mean "unknown".
type VisitorContext struct {
	Shop          string
	Type          Placement // optional timer-type narrowing
	PageType      string    // "product" | "collection" | "home" | "cart" | "page"
	PageURL       string
	ProductID     string
	CollectionIDs []string
	ProductTags   []string // lower-cased
	Country       string   // upper-cased ISO code or ""
}

// ResolvedTimerView is the subset of Timer shipped to the storefront, plus
// the server-evaluated ended flag. Recomputed per request.
type ResolvedTimerView struct {
	ID         string    `json:"id"`
	Type       Placement `json:"type"`
	Name       string    `json:"name"`
	Title      string    `json:"title"`
	Subheading string    `json:"subheading,omitempty"`

	TimerType       TimerType       `json:"timerType"`
	EndDate         *time.Time      `json:"endDate,omitempty"`
	IsRecurring     bool            `json:"isRecurring"`
	RecurringConfig json.RawMessage `json:"recurringConfig,omitempty"`
	FixedMinutes    int             `json:"fixedMinutes,omitempty"`

	DaysLabel    string `json:"daysLabel"`
	HoursLabel   string `json:"hoursLabel"`
	MinutesLabel string `json:"minutesLabel"`
	SecondsLabel string `json:"secondsLabel"`

	StartsAt *time.Time `json:"startsAt,omitempty"`
	OnExpiry OnExpiry   `json:"onExpiry"`
	Ended    bool       `json:"ended"`

	CTAType    CTAType `json:"ctaType,omitempty"`
	ButtonText string  `json:"buttonText,omitempty"`
	ButtonLink string  `json:"buttonLink,omitempty"`

	DesignConfig json.RawMessage `json:"designConfig,omitempty"`

	// Echoed for client-side debugging only; the server already filtered.
	PageSelection    PageSelection    `json:"pageSelection,omitempty"`
	ProductSelection ProductSelection `json:"productSelection,omitempty"`
}

// ResolveResponse is the public resolver payload.
type ResolveResponse struct {
	Timers []ResolvedTimerView `json:"timers"`
}

// ViewEvent is one storefront view beacon.
type ViewEvent struct {
	Shop       string    `json:"shop"`
	TimerID    string    `json:"timerId"`
	PageURL    string    `json:"pageUrl,omitempty"`
	PageType   string    `json:"pageType,omitempty"`
	ProductID  string    `json:"productId,omitempty"`
	Country    string    `json:"country,omitempty"`
	OccurredAt time.Time `json:"-"`
}

// Shop is the per-merchant record carrying plan state and view counters.
type Shop struct {
	ShopDomain    string     `json:"shopDomain"`
	CurrentPlan   string     `json:"currentPlan"`
	MonthlyViews  int64      `json:"monthlyViews"`
	ViewsResetAt  time.Time  `json:"viewsResetAt"`
	BillingStatus string     `json:"billingStatus"`
	DeletedAt     *time.Time `json:"deletedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// ShopUsage summarizes a shop's plan consumption.
type ShopUsage struct {
	ShopDomain     string    `json:"shopDomain"`
	CurrentPlan    string    `json:"currentPlan"`
	TimerCount     int       `json:"timerCount"`
	TimerLimit     int       `json:"timerLimit"` // -1 means unlimited
	MonthlyViews   int64     `json:"monthlyViews"`
	ViewLimit      int64     `json:"viewLimit"` // -1 means unlimited
	ViewsRemaining int64     `json:"viewsRemaining"`
	ViewsResetAt   time.Time `json:"viewsResetAt"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
