// Package host defines the capability contract between the background agent
// and the browser it coordinates: tab messaging, companion-script injection,
// and content-script registration. The agent's components receive a Bridge
// as an injected collaborator, never as implicit global state, so a test
// double can stand in for the real browser.
package host

import (
	"context"
	"encoding/json"
)

// Registration is the single registered companion-script rule. At most one
// instance exists process-wide; its ID and activation timing are fixed, only
// the match-pattern set changes over its lifetime.
type Registration struct {
	ID      string   `json:"id"`
	Sources []string `json:"sources"`
	Matches []string `json:"matches"`
	RunAt   string   `json:"run_at"`
}

// Fixed attributes of the companion-script rule.
const (
	ScriptID     = "stash-companion"
	ScriptSource = "companion.js"
	RunAtIdle    = "document_idle"
)

// NewRegistration builds the canonical rule for the given match patterns.
func NewRegistration(matches []string) Registration {
	return Registration{
		ID:      ScriptID,
		Sources: []string{ScriptSource},
		Matches: matches,
		RunAt:   RunAtIdle,
	}
}

// Bridge is the host capability object. Implementations wrap a concrete
// browser control surface (see rodhost); tests substitute an in-memory fake.
//
// SendTabMessage delivers an event message to a tab and returns the raw
// reply. A nil or empty reply means the receiver produced no defined result;
// some hosts signal an absent receiver this way instead of returning an
// error, and callers must treat the two identically.
type Bridge interface {
	// SendTabMessage sends {event, data} to the tab and returns the reply.
	SendTabMessage(ctx context.Context, tabID int, event string, data any) (json.RawMessage, error)

	// InjectScript loads the companion script into the tab.
	InjectScript(ctx context.Context, tabID int) error

	// TabURL returns the current document URL of the tab.
	TabURL(ctx context.Context, tabID int) (string, error)

	// ContentScript returns the registered companion-script rule, or nil
	// when no registration exists.
	ContentScript(ctx context.Context) (*Registration, error)

	// RegisterContentScript creates the rule. Registering the same rule id
	// twice replaces the previous registration.
	RegisterContentScript(ctx context.Context, reg Registration) error

	// UpdateContentScript rewrites the match-pattern set of the existing rule.
	UpdateContentScript(ctx context.Context, reg Registration) error

	// UnregisterContentScript removes the rule. Removing an absent rule is
	// a no-op, not an error.
	UnregisterContentScript(ctx context.Context) error
}
