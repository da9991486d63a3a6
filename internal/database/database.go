package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"urgency-timer-api/internal/models"
)

// StoreUnavailableError signals that the underlying timer store could not be
// read. The resolver does not retry; callers decide retry policy.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("timer store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// DB wraps the database connection and provides methods for data access.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables if they don't exist.
func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS timers (
			id TEXT PRIMARY KEY,
			shop TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			subheading TEXT NOT NULL DEFAULT '',
			timer_type TEXT NOT NULL,
			end_date TEXT,
			fixed_minutes INTEGER NOT NULL DEFAULT 0,
			is_recurring INTEGER NOT NULL DEFAULT 0,
			recurring_config TEXT NOT NULL DEFAULT '',
			starts_at TEXT,
			on_expiry TEXT NOT NULL DEFAULT 'unpublish',
			days_label TEXT NOT NULL DEFAULT 'Days',
			hours_label TEXT NOT NULL DEFAULT 'Hrs',
			minutes_label TEXT NOT NULL DEFAULT 'Mins',
			seconds_label TEXT NOT NULL DEFAULT 'Secs',
			cta_type TEXT NOT NULL DEFAULT '',
			button_text TEXT NOT NULL DEFAULT '',
			button_link TEXT NOT NULL DEFAULT '',
			design_config TEXT NOT NULL DEFAULT '',
			placement_config TEXT NOT NULL DEFAULT '{}',
			page_selection TEXT NOT NULL DEFAULT '',
			excluded_pages TEXT NOT NULL DEFAULT '[]',
			product_selection TEXT NOT NULL DEFAULT 'all',
			selected_products TEXT NOT NULL DEFAULT '[]',
			selected_collections TEXT NOT NULL DEFAULT '[]',
			excluded_products TEXT NOT NULL DEFAULT '[]',
			product_tags TEXT NOT NULL DEFAULT '[]',
			geolocation TEXT NOT NULL DEFAULT 'all-world',
			countries TEXT NOT NULL DEFAULT '[]',
			is_published INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS shops (
			shop_domain TEXT PRIMARY KEY,
			current_plan TEXT NOT NULL DEFAULT 'free',
			monthly_views INTEGER NOT NULL DEFAULT 0,
			views_reset_at TEXT NOT NULL,
			billing_status TEXT NOT NULL DEFAULT 'active',
			deleted_at TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS timer_views (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			shop TEXT NOT NULL,
			timer_id TEXT NOT NULL,
			page_url TEXT NOT NULL DEFAULT '',
			page_type TEXT NOT NULL DEFAULT '',
			product_id TEXT NOT NULL DEFAULT '',
			country TEXT NOT NULL DEFAULT '',
			occurred_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_timers_shop ON timers(shop)`,
		`CREATE INDEX IF NOT EXISTS idx_timers_shop_live ON timers(shop, is_published, is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_timers_created_at ON timers(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_views_shop ON timer_views(shop)`,
		`CREATE INDEX IF NOT EXISTS idx_views_timer_id ON timer_views(timer_id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

const timerColumns = `id, shop, name, type, title, subheading,
	timer_type, end_date, fixed_minutes, is_recurring, recurring_config,
	starts_at, on_expiry,
	days_label, hours_label, minutes_label, seconds_label,
	cta_type, button_text, button_link,
	design_config, placement_config,
	page_selection, excluded_pages,
	product_selection, selected_products, selected_collections, excluded_products, product_tags,
	geolocation, countries,
	is_published, is_active, created_at, updated_at`

// UpsertTimer creates or updates a timer.
func (db *DB) UpsertTimer(t models.Timer) error {
	query := `INSERT INTO timers (` + timerColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		shop = excluded.shop,
		name = excluded.name,
		type = excluded.type,
		title = excluded.title,
		subheading = excluded.subheading,
		timer_type = excluded.timer_type,
		end_date = excluded.end_date,
		fixed_minutes = excluded.fixed_minutes,
		is_recurring = excluded.is_recurring,
		recurring_config = excluded.recurring_config,
		starts_at = excluded.starts_at,
		on_expiry = excluded.on_expiry,
		days_label = excluded.days_label,
		hours_label = excluded.hours_label,
		minutes_label = excluded.minutes_label,
		seconds_label = excluded.seconds_label,
		cta_type = excluded.cta_type,
		button_text = excluded.button_text,
		button_link = excluded.button_link,
		design_config = excluded.design_config,
		placement_config = excluded.placement_config,
		page_selection = excluded.page_selection,
		excluded_pages = excluded.excluded_pages,
		product_selection = excluded.product_selection,
		selected_products = excluded.selected_products,
		selected_collections = excluded.selected_collections,
		excluded_products = excluded.excluded_products,
		product_tags = excluded.product_tags,
		geolocation = excluded.geolocation,
		countries = excluded.countries,
		is_published = excluded.is_published,
		is_active = excluded.is_active,
		updated_at = excluded.updated_at`

	placementJSON, err := json.Marshal(t.PlacementConfig)
	if err != nil {
		placementJSON = []byte("{}")
	}

	_, err = db.conn.Exec(
		query,
		t.ID,
		t.Shop,
		t.Name,
		string(t.Type),
		t.Title,
		t.Subheading,
		string(t.TimerType),
		nullableTime(t.EndDate),
		t.FixedMinutes,
		t.IsRecurring,
		string(t.RecurringConfig),
		nullableTime(t.StartsAt),
		string(t.OnExpiry),
		t.DaysLabel,
		t.HoursLabel,
		t.MinutesLabel,
		t.SecondsLabel,
		string(t.CTAType),
		t.ButtonText,
		t.ButtonLink,
		string(t.DesignConfig),
		string(placementJSON),
		string(t.PageSelection),
		serializeList(t.ExcludedPages),
		string(t.ProductSelection),
		serializeList(t.SelectedProducts),
		serializeList(t.SelectedCollections),
		serializeList(t.ExcludedProducts),
		serializeList(t.ProductTags),
		string(t.Geolocation),
		serializeList(t.Countries),
		t.IsPublished,
		t.IsActive,
		t.CreatedAt.UTC().Format(time.RFC3339),
		t.UpdatedAt.UTC().Format(time.RFC3339),
	)

	if err != nil {
		return fmt.Errorf("failed to upsert timer: %w", err)
	}

	return nil
}

// GetTimer returns a single timer by id, or sql.ErrNoRows if absent.
func (db *DB) GetTimer(id string) (models.Timer, error) {
	row := db.conn.QueryRow(`SELECT `+timerColumns+` FROM timers WHERE id = ?`, id)

	t, err := scanTimer(row)
	if err == sql.ErrNoRows {
		return models.Timer{}, err
	}
	if err != nil {
		return models.Timer{}, fmt.Errorf("failed to get timer: %w", err)
	}

	return t, nil
}

// DeleteTimer removes a timer. Deleting a missing timer is not an error.
func (db *DB) DeleteTimer(id string) error {
	if _, err := db.conn.Exec(`DELETE FROM timers WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete timer: %w", err)
	}
	return nil
}

// ListTimers returns all timers for a shop, most recently created first.
func (db *DB) ListTimers(shop string) ([]models.Timer, error) {
	rows, err := db.conn.Query(
		`SELECT `+timerColumns+` FROM timers WHERE shop = ? ORDER BY created_at DESC`, shop)
	if err != nil {
		return nil, fmt.Errorf("failed to query timers: %w", err)
	}
	defer rows.Close()

	return collectTimers(rows)
}

// CountTimers returns the number of timers a shop has configured.
func (db *DB) CountTimers(shop string) (int, error) {
	var count int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM timers WHERE shop = ?`, shop).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count timers: %w", err)
	}
	return count, nil
}

// GetCandidateTimers returns the resolver's candidate set for a shop:
// published, active, already started (startsAt null or <= now), optionally
// narrowed by placement type, most recently created first. Failures are
// wrapped in StoreUnavailableError so the handler can map them to a 500.
func (db *DB) GetCandidateTimers(shop string, placement models.Placement, now time.Time) ([]models.Timer, error) {
	query := `SELECT ` + timerColumns + ` FROM timers
		WHERE shop = ?
		AND is_published = 1
		AND is_active = 1
		AND (starts_at IS NULL OR starts_at <= ?)`

	args := []interface{}{shop, now.UTC().Format(time.RFC3339)}

	if placement != "" {
		query += ` AND type = ?`
		args = append(args, string(placement))
	}

	query += ` ORDER BY created_at DESC`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, &StoreUnavailableError{Op: "query candidate timers", Err: err}
	}
	defer rows.Close()

	timers, err := collectTimers(rows)
	if err != nil {
		return nil, &StoreUnavailableError{Op: "scan candidate timers", Err: err}
	}

	return timers, nil
}

// InsertViewEvents inserts a batch of view events in one transaction.
func (db *DB) InsertViewEvents(events []models.ViewEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO timer_views (
		shop, timer_id, page_url, page_type, product_id, country, occurred_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, ev := range events {
		_, err := stmt.Exec(
			ev.Shop,
			ev.TimerID,
			ev.PageURL,
			ev.PageType,
			ev.ProductID,
			ev.Country,
			ev.OccurredAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert view event for timer %s: %w", ev.TimerID, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return inserted, nil
}

// EnsureShop returns the shop record, creating it on first contact. A shop
// that previously uninstalled is reactivated.
func (db *DB) EnsureShop(domain string) (models.Shop, error) {
	shop, err := db.GetShop(domain)
	if err == sql.ErrNoRows {
		now := time.Now().UTC()
		_, err = db.conn.Exec(
			`INSERT INTO shops (shop_domain, current_plan, monthly_views, views_reset_at, billing_status, created_at)
			 VALUES (?, 'free', 0, ?, 'active', ?)`,
			domain, now.Format(time.RFC3339), now.Format(time.RFC3339),
		)
		if err != nil {
			return models.Shop{}, fmt.Errorf("failed to create shop: %w", err)
		}
		return db.GetShop(domain)
	}
	if err != nil {
		return models.Shop{}, err
	}

	if shop.BillingStatus == "cancelled" || shop.DeletedAt != nil {
		_, err = db.conn.Exec(
			`UPDATE shops SET billing_status = 'active', deleted_at = NULL WHERE shop_domain = ?`, domain)
		if err != nil {
			return models.Shop{}, fmt.Errorf("failed to reactivate shop: %w", err)
		}
		return db.GetShop(domain)
	}

	return shop, nil
}

// GetShop returns the shop record, or sql.ErrNoRows if absent.
func (db *DB) GetShop(domain string) (models.Shop, error) {
	var (
		s         models.Shop
		resetAt   string
		deletedAt sql.NullString
		createdAt string
	)

	err := db.conn.QueryRow(
		`SELECT shop_domain, current_plan, monthly_views, views_reset_at, billing_status, deleted_at, created_at
		 FROM shops WHERE shop_domain = ?`, domain,
	).Scan(&s.ShopDomain, &s.CurrentPlan, &s.MonthlyViews, &resetAt, &s.BillingStatus, &deletedAt, &createdAt)
	if err == sql.ErrNoRows {
		return models.Shop{}, err
	}
	if err != nil {
		return models.Shop{}, fmt.Errorf("failed to get shop: %w", err)
	}

	s.ViewsResetAt = parseTimeOrZero(resetAt)
	s.CreatedAt = parseTimeOrZero(createdAt)
	if deletedAt.Valid && deletedAt.String != "" {
		t := parseTimeOrZero(deletedAt.String)
		s.DeletedAt = &t
	}

	return s, nil
}

// IncrementShopViews adds n to a shop's monthly view counter.
func (db *DB) IncrementShopViews(domain string, n int64) error {
	_, err := db.conn.Exec(
		`UPDATE shops SET monthly_views = monthly_views + ? WHERE shop_domain = ?`, n, domain)
	if err != nil {
		return fmt.Errorf("failed to increment shop views: %w", err)
	}
	return nil
}

// ResetMonthlyViews zeroes the counter and schedules the next reset 30 days
// out, matching the billing cycle.
func (db *DB) ResetMonthlyViews(domain string) error {
	next := time.Now().UTC().AddDate(0, 0, 30)
	_, err := db.conn.Exec(
		`UPDATE shops SET monthly_views = 0, views_reset_at = ? WHERE shop_domain = ?`,
		next.Format(time.RFC3339), domain)
	if err != nil {
		return fmt.Errorf("failed to reset monthly views: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTimer(row rowScanner) (models.Timer, error) {
	var (
		t               models.Timer
		timerType       string
		placement       string
		endDate         sql.NullString
		startsAt        sql.NullString
		recurringConfig string
		onExpiry        string
		ctaType         string
		designConfig    string
		placementConfig string
		pageSelection   string
		excludedPages   string
		productSel      string
		selProducts     string
		selCollections  string
		exclProducts    string
		productTags     string
		geolocation     string
		countries       string
		createdAt       string
		updatedAt       string
	)

	err := row.Scan(
		&t.ID, &t.Shop, &t.Name, &placement, &t.Title, &t.Subheading,
		&timerType, &endDate, &t.FixedMinutes, &t.IsRecurring, &recurringConfig,
		&startsAt, &onExpiry,
		&t.DaysLabel, &t.HoursLabel, &t.MinutesLabel, &t.SecondsLabel,
		&ctaType, &t.ButtonText, &t.ButtonLink,
		&designConfig, &placementConfig,
		&pageSelection, &excludedPages,
		&productSel, &selProducts, &selCollections, &exclProducts, &productTags,
		&geolocation, &countries,
		&t.IsPublished, &t.IsActive, &createdAt, &updatedAt,
	)
	if err != nil {
		return models.Timer{}, err
	}

	t.Type = models.Placement(placement)
	t.TimerType = models.TimerType(timerType)
	t.OnExpiry = models.OnExpiry(onExpiry)
	t.CTAType = models.CTAType(ctaType)
	t.PageSelection = models.PageSelection(pageSelection)
	t.ProductSelection = models.ProductSelection(productSel)
	t.Geolocation = models.Geolocation(geolocation)

	if endDate.Valid && endDate.String != "" {
		ts := parseTimeOrZero(endDate.String)
		t.EndDate = &ts
	}
	if startsAt.Valid && startsAt.String != "" {
		ts := parseTimeOrZero(startsAt.String)
		t.StartsAt = &ts
	}

	if recurringConfig != "" {
		t.RecurringConfig = json.RawMessage(recurringConfig)
	}
	if designConfig != "" {
		t.DesignConfig = json.RawMessage(designConfig)
	}

	// Malformed targeting fields are coerced to empty rather than failing the
	// whole row; one bad timer record must not break the request.
	if err := json.Unmarshal([]byte(placementConfig), &t.PlacementConfig); err != nil {
		t.PlacementConfig = models.PlacementConfig{}
	}
	t.ExcludedPages = deserializeList(excludedPages)
	t.SelectedProducts = deserializeList(selProducts)
	t.SelectedCollections = deserializeList(selCollections)
	t.ExcludedProducts = deserializeList(exclProducts)
	t.ProductTags = deserializeList(productTags)
	t.Countries = deserializeList(countries)

	t.CreatedAt = parseTimeOrZero(createdAt)
	t.UpdatedAt = parseTimeOrZero(updatedAt)

	return t, nil
}

func collectTimers(rows *sql.Rows) ([]models.Timer, error) {
	var timers []models.Timer
	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			return nil, err
		}
		timers = append(timers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return timers, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTimeOrZero(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// serializeList converts a string slice to its JSON text representation.
func serializeList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// deserializeList converts stored JSON back to a slice, coercing anything
// malformed or non-array to an empty list.
func deserializeList(serialized string) []string {
	if serialized == "" || serialized == "[]" {
		return nil
	}

	var result []string
	if err := json.Unmarshal([]byte(serialized), &result); err != nil {
		return nil
	}
	return result
}
