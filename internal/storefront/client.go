// Package storefront is the visitor-side counterpart of the public API: a
// fail-open client for the resolver endpoint and a page session that mounts
// countdown runners for the timers it receives.
package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"urgency-timer-api/internal/models"
)

const (
	defaultTimeout = 5 * time.Second

	timersPath = "/public/timers"
	viewsPath  = "/public/views"
)

// Client talks to the public timer endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// NewClientWithHTTP uses a caller-provided http.Client (tests).
func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	c := NewClient(baseURL)
	if httpClient != nil {
		c.httpClient = httpClient
	}
	return c
}

// FetchTimers asks the resolver for the visitor's eligible timers.
func (c *Client) FetchTimers(ctx context.Context, vctx models.VisitorContext) ([]models.ResolvedTimerView, error) {
	params := url.Values{}
	params.Set("shop", vctx.Shop)
	if vctx.Type != "" {
		params.Set("type", string(vctx.Type))
	}
	if vctx.PageType != "" {
		params.Set("pageType", vctx.PageType)
	}
	if vctx.PageURL != "" {
		params.Set("url", vctx.PageURL)
	}
	if vctx.ProductID != "" {
		params.Set("productId", vctx.ProductID)
	}
	if len(vctx.CollectionIDs) > 0 {
		params.Set("collectionIds", strings.Join(vctx.CollectionIDs, ","))
	}
	if len(vctx.ProductTags) > 0 {
		params.Set("productTags", strings.Join(vctx.ProductTags, ","))
	}
	if vctx.Country != "" {
		params.Set("country", vctx.Country)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+timersPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch timers (%d)", resp.StatusCode)
	}

	var payload models.ResolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	return payload.Timers, nil
}

// SendViewBeacon posts one view event. Best-effort: every failure is
// swallowed after a debug log, matching beacon semantics.
func (c *Client) SendViewBeacon(ctx context.Context, ev models.ViewEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+viewsPath, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("timer_id", ev.TimerID).Msg("view beacon failed")
		return
	}
	resp.Body.Close()
}
