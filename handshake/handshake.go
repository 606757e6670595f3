// Package handshake confirms that the companion script is live in a target
// tab before commands are delivered to it, injecting it on demand.
//
// The probe-then-inject retry is an explicit state machine with a structural
// attempt bound: a readiness check never makes more than two injection
// attempts against a tab.
package handshake

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/stashbridge/host"
)

// ProbeEvent is the liveness message the companion script answers.
const ProbeEvent = "content-script-check"

// maxInjectAttempts bounds the machine: one injection plus one retry.
const maxInjectAttempts = 2

// State of the per-tab readiness machine.
type State int

const (
	StateUnknown State = iota
	StateProbing
	StateInjecting
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateProbing:
		return "probing"
	case StateInjecting:
		return "injecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// InjectionError reports that the companion script could not be confirmed
// present in a tab after the permitted retry.
type InjectionError struct {
	TabID int
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("handshake: companion script injection failed for tab %d", e.TabID)
}

// Handshake runs readiness checks against a host bridge.
type Handshake struct {
	bridge host.Bridge
	logger *slog.Logger
}

// Option configures a Handshake.
type Option func(*Handshake)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handshake) { h.logger = l }
}

// New creates a Handshake over the given bridge.
func New(bridge host.Bridge, opts ...Option) *Handshake {
	h := &Handshake{bridge: bridge, logger: slog.Default()}
	for _, o := range opts {
		o(h)
	}
	return h
}

// EnsureReady drives the machine until the tab answers the probe or both
// injection attempts are spent, in which case it returns an *InjectionError.
func (h *Handshake) EnsureReady(ctx context.Context, tabID int) error {
	attempts := 0
	st := StateProbing

	for {
		switch st {
		case StateProbing:
			if h.probe(ctx, tabID) {
				st = StateReady
			} else {
				st = StateInjecting
			}

		case StateInjecting:
			attempts++
			h.logger.DebugContext(ctx, "handshake: injecting companion script",
				"tab", tabID, "attempt", attempts)
			if err := h.bridge.InjectScript(ctx, tabID); err != nil {
				h.logger.WarnContext(ctx, "handshake: injection primitive failed",
					"tab", tabID, "attempt", attempts, "error", err)
			}
			// The second attempt is the last: it does not earn another probe
			// round, the machine fails outright.
			if attempts >= maxInjectAttempts {
				st = StateFailed
			} else {
				st = StateProbing
			}

		case StateReady:
			h.logger.DebugContext(ctx, "handshake: companion ready",
				"tab", tabID, "injections", attempts)
			return nil

		case StateFailed:
			return &InjectionError{TabID: tabID}
		}
	}
}

// probe reports whether the companion answered with a defined result. One
// host returns an undefined result for an absent receiver instead of raising
// an error; both signals are normalized to "absent" so behavior stays
// uniform across hosts.
func (h *Handshake) probe(ctx context.Context, tabID int) bool {
	reply, err := h.bridge.SendTabMessage(ctx, tabID, ProbeEvent, nil)
	if err != nil {
		return false
	}
	return defined(reply)
}

func defined(raw []byte) bool {
	switch string(raw) {
	case "", "null", "undefined":
		return false
	}
	return true
}
