// Package agent is the top-level orchestrator: it wires the host bridge,
// identity resolver, inventory fetcher, readiness handshake, and permission
// sync engine together and exposes them as the command surface and event
// hooks the extension layers drive.
//
// The agent is single-threaded by design: command dispatch and host events
// are consumed sequentially, interleaving only while awaiting the network or
// the host. Permission events in particular must never be processed
// concurrently (see permsync).
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/stashbridge/dispatch"
	"github.com/hazyhaar/stashbridge/handshake"
	"github.com/hazyhaar/stashbridge/host"
	"github.com/hazyhaar/stashbridge/identity"
	"github.com/hazyhaar/stashbridge/inventory"
	"github.com/hazyhaar/stashbridge/permsync"
)

// ErrNotLoggedIn is returned by inventory commands when the profile document
// carries no session identity.
var ErrNotLoggedIn = errors.New("agent: no logged-in session")

// Agent coordinates the background-side protocols over one host bridge.
type Agent struct {
	bridge   host.Bridge
	resolver *identity.Resolver
	fetcher  *inventory.Fetcher
	shake    *handshake.Handshake
	perms    *permsync.Engine
	logger   *slog.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets a custom logger, propagated to all components built here.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithResolver substitutes the identity resolver.
func WithResolver(r *identity.Resolver) Option {
	return func(a *Agent) { a.resolver = r }
}

// WithFetcher substitutes the inventory fetcher.
func WithFetcher(f *inventory.Fetcher) Option {
	return func(a *Agent) { a.fetcher = f }
}

// New creates an Agent over the given bridge.
func New(bridge host.Bridge, opts ...Option) *Agent {
	a := &Agent{bridge: bridge, logger: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	if a.resolver == nil {
		a.resolver = identity.New(identity.WithLogger(a.logger))
	}
	if a.fetcher == nil {
		a.fetcher = inventory.New(inventory.WithLogger(a.logger))
	}
	a.shake = handshake.New(bridge, handshake.WithLogger(a.logger))
	a.perms = permsync.New(bridge, permsync.WithLogger(a.logger))
	return a
}

// InventoryRequest is the payload of the get-inventory command.
type InventoryRequest struct {
	AppID     string `json:"appId"`
	ContextID string `json:"contextId"`
}

// GetInventory resolves the session identity and fetches the merged
// inventory for one collection/context pair. Identity is re-resolved on
// every call.
func (a *Agent) GetInventory(ctx context.Context, req InventoryRequest) (*inventory.Merged, error) {
	id, err := a.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrNotLoggedIn
	}
	return a.fetcher.Fetch(ctx, id, req.AppID, req.ContextID)
}

// OriginPatternRequest is the payload of the origin-pattern command.
type OriginPatternRequest struct {
	TabID int `json:"tabId"`
}

// OriginPatternResult tells the UI which match pattern a host-permission
// request for the tab would use, and whether the registration already
// covers the tab.
type OriginPatternResult struct {
	Pattern string `json:"pattern"`
	Granted bool   `json:"granted"`
}

// OriginPattern validates the tab's URL and derives its permission pattern.
func (a *Agent) OriginPattern(ctx context.Context, req OriginPatternRequest) (*OriginPatternResult, error) {
	rawURL, err := a.bridge.TabURL(ctx, req.TabID)
	if err != nil {
		return nil, fmt.Errorf("agent: tab url: %w", err)
	}
	pattern, err := permsync.PatternForTab(rawURL)
	if err != nil {
		return nil, err
	}

	granted := false
	if reg, err := a.bridge.ContentScript(ctx); err == nil && reg != nil {
		granted = permsync.Covers(reg.Matches, rawURL)
	}
	return &OriginPatternResult{Pattern: pattern, Granted: granted}, nil
}

// Commands registers the agent's command surface on a dispatcher.
func (a *Agent) Commands(d *dispatch.Dispatcher) {
	d.Register("get-inventory", func(ctx context.Context, data json.RawMessage) (any, error) {
		var req InventoryRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("agent: get-inventory payload: %w", err)
		}
		return a.GetInventory(ctx, req)
	})
	d.Register("origin-pattern", func(ctx context.Context, data json.RawMessage) (any, error) {
		var req OriginPatternRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("agent: origin-pattern payload: %w", err)
		}
		return a.OriginPattern(ctx, req)
	})
}

// OnTabActivated runs the readiness handshake against the activated tab.
// A failed handshake is logged, not fatal: event handlers always run to
// completion.
func (a *Agent) OnTabActivated(ctx context.Context, tabID int) error {
	if err := a.shake.EnsureReady(ctx, tabID); err != nil {
		a.logger.WarnContext(ctx, "agent: tab activation handshake failed",
			"tab", tabID, "error", err)
		return err
	}
	return nil
}

// OnOriginsGranted feeds a host permission grant into the sync engine.
func (a *Agent) OnOriginsGranted(ctx context.Context, origins []string) error {
	return a.perms.OnGranted(ctx, origins)
}

// OnOriginsRemoved feeds a host permission revocation into the sync engine.
func (a *Agent) OnOriginsRemoved(ctx context.Context, origins []string) error {
	return a.perms.OnRevoked(ctx, origins)
}
