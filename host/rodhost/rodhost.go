// Package rodhost implements the host.Bridge capability contract over a
// real browser driven through the DevTools protocol.
//
// Tab messaging goes through the companion script's message hook evaluated
// in the page; injection evaluates the companion source directly. The
// content-script registration survives host restarts through a registration
// store, and is installed into matching open tabs via
// Page.addScriptToEvaluateOnNewDocument.
package rodhost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/stashbridge/host"
	"github.com/hazyhaar/stashbridge/permsync"
)

// messageHook is the function the companion script installs on the page.
// Evaluating it against a page without the companion yields undefined,
// which the readiness handshake treats as "absent".
const messageHook = `(event, data) => globalThis.__stashDispatch && globalThis.__stashDispatch(event, data)`

// Host drives one browser over DevTools and implements host.Bridge.
type Host struct {
	controlURL string
	source     []byte
	store      Store
	logger     *slog.Logger

	browser *rod.Browser
	lnch    *launcher.Launcher

	mu      sync.Mutex
	nextTab int
	tabs    map[int]*rod.Page
	// installed tracks the addScriptToEvaluateOnNewDocument identifier per
	// tab so unregistering can undo it.
	installed map[int]proto.PageScriptIdentifier
}

// Option configures a Host.
type Option func(*Host)

// WithControlURL connects to a remote DevTools websocket instead of
// launching a local browser.
func WithControlURL(u string) Option {
	return func(h *Host) { h.controlURL = u }
}

// WithCompanionSource sets the companion script source that injection and
// registration deliver into tabs.
func WithCompanionSource(src []byte) Option {
	return func(h *Host) { h.source = src }
}

// WithRegistrationStore sets the persistent registration store. Without one
// the registration only lives for the process lifetime.
func WithRegistrationStore(s Store) Option {
	return func(h *Host) { h.store = s }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// New creates a Host. Call Connect before using the Bridge surface.
func New(opts ...Option) *Host {
	h := &Host{
		logger:    slog.Default(),
		store:     newMemStore(),
		tabs:      make(map[int]*rod.Page),
		installed: make(map[int]proto.PageScriptIdentifier),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Connect attaches to the browser: the remote control URL when configured,
// otherwise a locally launched headless instance.
func (h *Host) Connect(ctx context.Context) error {
	wsURL := h.controlURL
	if wsURL == "" {
		l := launcher.New().Headless(true)
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("rodhost: launch: %w", err)
		}
		h.lnch = l
		wsURL = u
		h.logger.Info("rodhost: launched local browser", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("rodhost: connect: %w", err)
	}
	h.browser = b
	return nil
}

// Close disconnects from the browser and shuts down a locally launched one.
func (h *Host) Close() error {
	var err error
	if h.browser != nil {
		err = h.browser.Close()
	}
	if h.lnch != nil {
		h.lnch.Cleanup()
	}
	return err
}

// OpenTab opens a new stealth tab on the URL and tracks it under a fresh
// tab id. When the current registration covers the URL, the companion is
// installed for the tab's future documents.
func (h *Host) OpenTab(ctx context.Context, pageURL string) (int, error) {
	if h.browser == nil {
		return 0, fmt.Errorf("rodhost: not connected")
	}
	page, err := stealth.Page(h.browser)
	if err != nil {
		return 0, fmt.Errorf("rodhost: create tab: %w", err)
	}
	if err := page.Context(ctx).Navigate(pageURL); err != nil {
		page.Close()
		return 0, fmt.Errorf("rodhost: navigate %s: %w", pageURL, err)
	}

	h.mu.Lock()
	h.nextTab++
	id := h.nextTab
	h.tabs[id] = page
	h.mu.Unlock()

	if reg, _ := h.ContentScript(ctx); reg != nil && permsync.Covers(reg.Matches, pageURL) {
		if err := h.installOnNewDocuments(ctx, id, page); err != nil {
			h.logger.Warn("rodhost: companion install failed", "tab", id, "error", err)
		}
	}

	h.logger.Debug("rodhost: tab opened", "tab", id, "url", pageURL)
	return id, nil
}

// CloseTab closes and forgets a tab.
func (h *Host) CloseTab(tabID int) error {
	h.mu.Lock()
	page := h.tabs[tabID]
	delete(h.tabs, tabID)
	delete(h.installed, tabID)
	h.mu.Unlock()
	if page == nil {
		return nil
	}
	return page.Close()
}

func (h *Host) page(tabID int) (*rod.Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	page, ok := h.tabs[tabID]
	if !ok {
		return nil, fmt.Errorf("rodhost: unknown tab %d", tabID)
	}
	return page, nil
}

// SendTabMessage evaluates the companion's message hook in the tab. An
// undefined result marshals to null, surfacing as an empty raw message.
func (h *Host) SendTabMessage(ctx context.Context, tabID int, event string, data any) (json.RawMessage, error) {
	page, err := h.page(tabID)
	if err != nil {
		return nil, err
	}
	res, err := page.Context(ctx).Eval(messageHook, event, data)
	if err != nil {
		return nil, fmt.Errorf("rodhost: tab message: %w", err)
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("rodhost: marshal reply: %w", err)
	}
	return json.RawMessage(raw), nil
}

// InjectScript evaluates the companion source in the tab's current document.
func (h *Host) InjectScript(ctx context.Context, tabID int) error {
	page, err := h.page(tabID)
	if err != nil {
		return err
	}
	if len(h.source) == 0 {
		return fmt.Errorf("rodhost: no companion source configured")
	}
	_, err = proto.RuntimeEvaluate{Expression: string(h.source)}.Call(page.Context(ctx))
	if err != nil {
		return fmt.Errorf("rodhost: inject: %w", err)
	}
	return nil
}

// TabURL returns the tab's current document URL.
func (h *Host) TabURL(ctx context.Context, tabID int) (string, error) {
	page, err := h.page(tabID)
	if err != nil {
		return "", err
	}
	info, err := page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("rodhost: tab info: %w", err)
	}
	return info.URL, nil
}

// ContentScript returns the registered companion rule, nil when absent.
func (h *Host) ContentScript(ctx context.Context) (*host.Registration, error) {
	return h.store.Load(ctx)
}

// RegisterContentScript persists the rule and installs the companion into
// open tabs its patterns cover.
func (h *Host) RegisterContentScript(ctx context.Context, reg host.Registration) error {
	if err := h.store.Save(ctx, reg); err != nil {
		return err
	}
	h.applyRegistration(ctx, reg)
	return nil
}

// UpdateContentScript rewrites the rule's match set and re-applies it.
func (h *Host) UpdateContentScript(ctx context.Context, reg host.Registration) error {
	if err := h.store.Save(ctx, reg); err != nil {
		return err
	}
	h.applyRegistration(ctx, reg)
	return nil
}

// UnregisterContentScript removes the rule and uninstalls the companion
// from future documents of all tracked tabs. Removing an absent rule is a
// no-op.
func (h *Host) UnregisterContentScript(ctx context.Context) error {
	if err := h.store.Delete(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ident := range h.installed {
		page := h.tabs[id]
		if page == nil {
			continue
		}
		err := proto.PageRemoveScriptToEvaluateOnNewDocument{Identifier: ident}.Call(page.Context(ctx))
		if err != nil {
			h.logger.Warn("rodhost: companion uninstall failed", "tab", id, "error", err)
		}
		delete(h.installed, id)
	}
	return nil
}

// applyRegistration installs the companion for future documents of every
// tracked tab covered by the rule's patterns.
func (h *Host) applyRegistration(ctx context.Context, reg host.Registration) {
	h.mu.Lock()
	pages := make(map[int]*rod.Page, len(h.tabs))
	for id, p := range h.tabs {
		pages[id] = p
	}
	h.mu.Unlock()

	for id, page := range pages {
		info, err := page.Context(ctx).Info()
		if err != nil || !permsync.Covers(reg.Matches, info.URL) {
			continue
		}
		if err := h.installOnNewDocuments(ctx, id, page); err != nil {
			h.logger.Warn("rodhost: companion install failed", "tab", id, "error", err)
		}
	}
}

func (h *Host) installOnNewDocuments(ctx context.Context, tabID int, page *rod.Page) error {
	h.mu.Lock()
	_, already := h.installed[tabID]
	h.mu.Unlock()
	if already || len(h.source) == 0 {
		return nil
	}

	res, err := proto.PageAddScriptToEvaluateOnNewDocument{Source: string(h.source)}.Call(page.Context(ctx))
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.installed[tabID] = res.Identifier
	h.mu.Unlock()
	return nil
}
