// Package inventory retrieves a user's item inventory from the remote
// community service and merges its paginated responses into one result.
//
// The protocol is deliberately capped at two fetches: a small first page to
// answer the common case fast, and one large follow-up page when the service
// reports more items. A collection larger than the two page-size hints
// combined is truncated; callers must not assume completeness for very
// large collections.
package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hazyhaar/stashbridge/identity"
)

// Page-size hints sent to the remote service. The first request stays small
// to bound latency for the common case; the follow-up requests the rest in
// one shot.
const (
	firstPageCount  = 75
	secondPageCount = 2000
)

// Page is one paginated response from the remote service. Assets and
// descriptions are kept as raw JSON so the service's fields pass through to
// consumers untouched.
type Page struct {
	Assets       []json.RawMessage `json:"assets"`
	Descriptions []json.RawMessage `json:"descriptions"`
	MoreItems    bool              `json:"more_items"`
	LastAssetID  string            `json:"last_assetid"`
}

// Merged has the shape of a Page whose assets and descriptions are the
// concatenation of all fetched pages in fetch order. MoreItems and
// LastAssetID reflect the last fetched page, so a true MoreItems tells the
// consumer the two-fetch cap truncated the collection.
type Merged = Page

// RemoteFetchError reports a non-success HTTP response from the remote
// inventory service. It is never retried.
type RemoteFetchError struct {
	Status  int
	Message string
}

func (e *RemoteFetchError) Error() string {
	return fmt.Sprintf("inventory: remote fetch failed: %d %s", e.Status, e.Message)
}

// Fetcher retrieves inventories over the paginated JSON API.
type Fetcher struct {
	client        *http.Client
	baseURL       string
	communityBase string
	logger        *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithBaseURL overrides the inventory API base URL.
func WithBaseURL(u string) Option {
	return func(f *Fetcher) { f.baseURL = u }
}

// WithCommunityBase overrides the base used to build the Referer header.
func WithCommunityBase(u string) Option {
	return func(f *Fetcher) { f.communityBase = u }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a Fetcher with sensible defaults.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:        &http.Client{Timeout: 30 * time.Second},
		baseURL:       "https://steamcommunity.com/inventory",
		communityBase: "https://steamcommunity.com",
		logger:        slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch retrieves the inventory for one collection/context pair. It issues
// the first page unconditionally and, when that page reports more items,
// exactly one cursor-continued follow-up. Both pages are merged in fetch
// order.
func (f *Fetcher) Fetch(ctx context.Context, id identity.SteamID, appID, contextID string) (*Merged, error) {
	first, err := f.fetchPage(ctx, id, appID, contextID, firstPageCount, "")
	if err != nil {
		return nil, err
	}
	if !first.MoreItems {
		return first, nil
	}

	second, err := f.fetchPage(ctx, id, appID, contextID, secondPageCount, first.LastAssetID)
	if err != nil {
		return nil, err
	}

	merged := &Merged{
		Assets:       append(first.Assets, second.Assets...),
		Descriptions: append(first.Descriptions, second.Descriptions...),
		MoreItems:    second.MoreItems,
		LastAssetID:  second.LastAssetID,
	}
	f.logger.DebugContext(ctx, "inventory: merged pages",
		"assets", len(merged.Assets), "truncated", merged.MoreItems)
	return merged, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, id identity.SteamID, appID, contextID string, count int, cursor string) (*Page, error) {
	q := url.Values{}
	q.Set("l", "english")
	q.Set("count", fmt.Sprint(count))
	if cursor != "" {
		q.Set("start_assetid", cursor)
	}
	pageURL := fmt.Sprintf("%s/%s/%s/%s?%s", f.baseURL, id, appID, contextID, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("inventory: new request: %w", err)
	}
	// The service varies its response shape without an explicit JSON accept
	// header, and rejects requests lacking an own-inventory referrer.
	req.Header.Set("Referer", fmt.Sprintf("%s/profiles/%s/inventory", f.communityBase, id))
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inventory: fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RemoteFetchError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	// A malformed or empty body is treated as an empty page, not an error:
	// the service omits assets/descriptions entirely for empty inventories.
	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		f.logger.WarnContext(ctx, "inventory: undecodable page body treated as empty", "error", err)
		page = Page{}
	}
	if page.Assets == nil {
		page.Assets = []json.RawMessage{}
	}
	if page.Descriptions == nil {
		page.Descriptions = []json.RawMessage{}
	}
	return &page, nil
}
