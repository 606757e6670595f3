// Package identity discovers the current user's remote account identifier
// from the ambient logged-in browser session. No browser involvement: a
// single HTTP GET of the user's own profile document.
package identity

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"
)

// SteamID is the 17-digit account identifier, valid only within the current
// session. The zero value means "not logged in".
type SteamID string

// DefaultProfileURL resolves to the requesting session's own profile.
const DefaultProfileURL = "https://steamcommunity.com/my?xml=1"

// steamIDPattern matches the fixed-width identifier in the profile document.
var steamIDPattern = regexp.MustCompile(`<steamID64>(\d{17})`)

// Resolver extracts the session identity from the profile endpoint.
type Resolver struct {
	client     *http.Client
	profileURL string
	logger     *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(r *Resolver) { r.client = c }
}

// WithProfileURL overrides the profile endpoint.
func WithProfileURL(u string) Option {
	return func(r *Resolver) { r.profileURL = u }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New creates a Resolver with sensible defaults.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		client:     &http.Client{Timeout: 30 * time.Second},
		profileURL: DefaultProfileURL,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve fetches the profile document and extracts the identifier. A
// document without the identifier (logged-out session) yields the zero
// SteamID and no error; identity is re-resolved on every call, never cached.
// Transport failures and non-2xx statuses are errors.
func (r *Resolver) Resolve(ctx context.Context) (SteamID, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.profileURL, nil)
	if err != nil {
		return "", fmt.Errorf("identity: new request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("identity: fetch profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("identity: profile endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("identity: read profile: %w", err)
	}

	m := steamIDPattern.FindSubmatch(body)
	if m == nil {
		r.logger.DebugContext(ctx, "identity: no identifier in profile, session logged out")
		return "", nil
	}
	return SteamID(m[1]), nil
}
