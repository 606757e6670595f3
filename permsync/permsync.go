// Package permsync keeps the single registered companion-script rule's
// match-pattern set consistent with the origins the user has granted host
// access for.
//
// Both entry points are idempotent and read the current registration
// immediately before mutating it. Correctness relies on permission events
// being delivered one at a time by the host; there is no lock here, so if
// the host ever parallelizes event delivery this read-modify-write becomes
// a race.
package permsync

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/gobwas/glob"

	"github.com/hazyhaar/stashbridge/host"
)

// ValidationError reports a tab URL that cannot be turned into a host
// permission pattern: malformed, or not served over a secure scheme.
type ValidationError struct {
	URL    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("permsync: invalid tab url %q: %s", e.URL, e.Reason)
}

// PatternForTab converts a tab's document URL into the origin match pattern
// a host permission would be requested for. Only https pages qualify.
func PatternForTab(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", &ValidationError{URL: rawURL, Reason: "malformed"}
	}
	if u.Scheme != "https" {
		return "", &ValidationError{URL: rawURL, Reason: "scheme must be https"}
	}
	return "https://" + u.Host + "/*", nil
}

// Covers reports whether any of the match patterns applies to the page URL.
// Patterns are origin globs, so wildcard hosts like https://*.example.com/*
// work.
func Covers(patterns []string, pageURL string) bool {
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			continue
		}
		if g.Match(pageURL) {
			return true
		}
	}
	return false
}

// Engine applies permission grant/revoke events to the registration held by
// the host bridge.
type Engine struct {
	bridge host.Bridge
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine over the given bridge.
func New(bridge host.Bridge, opts ...Option) *Engine {
	e := &Engine{bridge: bridge, logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// OnGranted folds newly granted origins into the registration, creating it
// when absent. An empty set is a no-op.
func (e *Engine) OnGranted(ctx context.Context, origins []string) error {
	added := nonEmpty(origins)
	if len(added) == 0 {
		return nil
	}

	// Fresh read right before the mutation: a previous event for overlapping
	// origins may have rewritten the registration since we were scheduled.
	reg, err := e.bridge.ContentScript(ctx)
	if err != nil {
		return fmt.Errorf("permsync: read registration: %w", err)
	}

	var current []string
	if reg != nil {
		current = reg.Matches
	}
	matches, changed := union(current, added)

	switch {
	case reg == nil:
		if err := e.bridge.RegisterContentScript(ctx, host.NewRegistration(matches)); err != nil {
			return fmt.Errorf("permsync: register: %w", err)
		}
		e.logger.InfoContext(ctx, "permsync: companion script registered", "matches", matches)
	case changed:
		if err := e.bridge.UpdateContentScript(ctx, host.NewRegistration(matches)); err != nil {
			return fmt.Errorf("permsync: update: %w", err)
		}
		e.logger.InfoContext(ctx, "permsync: match patterns extended", "matches", matches)
	default:
		// Same set as before: re-applied event, nothing to do.
	}
	return nil
}

// OnRevoked removes revoked origins from the registration. The registration
// is removed outright when its match set would become empty; an empty
// registration and an absent one are the same state, normalized to absent.
// An empty set is a no-op.
func (e *Engine) OnRevoked(ctx context.Context, origins []string) error {
	removed := nonEmpty(origins)
	if len(removed) == 0 {
		return nil
	}

	reg, err := e.bridge.ContentScript(ctx)
	if err != nil {
		return fmt.Errorf("permsync: read registration: %w", err)
	}
	if reg == nil {
		// Nothing registered, nothing to shrink.
		return nil
	}

	matches, changed := difference(reg.Matches, removed)
	switch {
	case len(matches) == 0:
		if err := e.bridge.UnregisterContentScript(ctx); err != nil {
			return fmt.Errorf("permsync: unregister: %w", err)
		}
		e.logger.InfoContext(ctx, "permsync: companion script unregistered")
	case changed:
		if err := e.bridge.UpdateContentScript(ctx, host.NewRegistration(matches)); err != nil {
			return fmt.Errorf("permsync: update: %w", err)
		}
		e.logger.InfoContext(ctx, "permsync: match patterns reduced", "matches", matches)
	}
	return nil
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// union appends the members of add not already in current, preserving order.
func union(current, add []string) (out []string, changed bool) {
	out = append(out, current...)
	seen := make(map[string]bool, len(current))
	for _, s := range current {
		seen[s] = true
	}
	for _, s := range add {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
			changed = true
		}
	}
	return out, changed
}

// difference removes the members of drop from current, preserving order.
func difference(current, drop []string) (out []string, changed bool) {
	dropped := make(map[string]bool, len(drop))
	for _, s := range drop {
		dropped[s] = true
	}
	out = make([]string, 0, len(current))
	for _, s := range current {
		if dropped[s] {
			changed = true
			continue
		}
		out = append(out, s)
	}
	return out, changed
}
