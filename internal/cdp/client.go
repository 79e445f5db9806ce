package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/overlay_agent/internal/types"
)

const frameTreeTimeout = 5 * time.Second

// NavigationHandler receives the navigation events observed over CDP.
type NavigationHandler interface {
	HandleNavigationCommitted(ctx context.Context, tabID, frameID int)
	HandleTabRemoved(ctx context.Context, tabID int)
}

// Client attaches to browser pages over the DevTools protocol and serves
// as the frame hierarchy provider and navigation source for them.
type Client struct {
	cdpURL      string
	urlFilter   string
	tabRegistry *TabRegistry

	handlerMu sync.RWMutex
	handler   NavigationHandler

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	tabs   map[int]*TabContext
	tabsMu sync.RWMutex

	events chan navEvent
	done   chan struct{}
}

type TabContext struct {
	ID     target.ID
	TabID  int
	URL    string
	ctx    context.Context
	cancel context.CancelFunc
}

type navEvent struct {
	tabID   int
	frameID int
	removed bool
}

func NewClient(cdpURL, urlFilter string, tabRegistry *TabRegistry) *Client {
	return &Client{
		cdpURL:      cdpURL,
		urlFilter:   urlFilter,
		tabRegistry: tabRegistry,
		tabs:        make(map[int]*TabContext),
		events:      make(chan navEvent, 256),
		done:        make(chan struct{}),
	}
}

// SetHandler attaches the coordinator.
func (c *Client) SetHandler(h NavigationHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handler = h
}

// Registry exposes the tab registry backing this client.
func (c *Client) Registry() *TabRegistry { return c.tabRegistry }

func (c *Client) Connect(ctx context.Context) error {
	slog.Info("Connecting to Chromium", "url", c.cdpURL)

	c.allocCtx, c.allocCancel = chromedp.NewRemoteAllocator(context.Background(), c.cdpURL)
	c.browserCtx, c.browserCancel = chromedp.NewContext(c.allocCtx)

	if err := chromedp.Run(c.browserCtx); err != nil {
		return fmt.Errorf("cdp: connect to browser: %w", err)
	}

	targets, err := chromedp.Targets(c.browserCtx)
	if err != nil {
		return fmt.Errorf("cdp: enumerate targets: %w", err)
	}
	slog.Info("Found browser targets", "count", len(targets))

	go c.deliver(ctx)
	chromedp.ListenBrowser(c.browserCtx, c.browserEventHandler())
	browser := chromedp.FromContext(c.browserCtx).Browser
	if err := target.SetDiscoverTargets(true).Do(cdp.WithExecutor(c.browserCtx, browser)); err != nil {
		slog.Warn("cdp: target discovery unavailable", "error", err)
	}

	attachedCount := 0
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if !c.matchesTabURL(t.URL) {
			slog.Debug("Skipping tab (url filter)", "url", t.URL)
			continue
		}
		if err := c.attachToTab(t.TargetID, t.URL); err != nil {
			slog.Error("Failed to attach to tab", "target_id", t.TargetID, "url", truncateURL(t.URL), "error", err)
			continue
		}
		attachedCount++
	}

	slog.Info("Attached to tabs", "count", attachedCount, "tab_url_filter", c.urlFilter)
	return nil
}

func (c *Client) attachToTab(targetID target.ID, url string) error {
	tabInfo := c.tabRegistry.Register(targetID, url)

	tabCtx, tabCancel := chromedp.NewContext(c.allocCtx, chromedp.WithTargetID(targetID))
	tab := &TabContext{ID: targetID, TabID: tabInfo.ID, URL: url, ctx: tabCtx, cancel: tabCancel}

	var tree *page.FrameTree
	err := chromedp.Run(tabCtx, page.Enable(), chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		tree, err = page.GetFrameTree().Do(ctx)
		return err
	}))
	if err != nil {
		tabCancel()
		c.tabRegistry.Remove(targetID)
		return fmt.Errorf("cdp: enable page domain: %w", err)
	}
	c.tabRegistry.SetFrameTree(tabInfo.ID, tree)

	c.tabsMu.Lock()
	c.tabs[tabInfo.ID] = tab
	c.tabsMu.Unlock()

	slog.Info("Attached to tab", "target_id", targetID, "tab_id", tabInfo.ID, "url", truncateURL(url))
	chromedp.ListenTarget(tabCtx, c.createEventHandler(tabInfo.ID))
	return nil
}

// Listener callbacks must not block; anything that talks back to the
// browser runs on its own goroutine.
func (c *Client) createEventHandler(tabID int) func(ev interface{}) {
	return func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			frameID, ok := c.tabRegistry.FrameNavigated(tabID, e.Frame)
			if !ok {
				return
			}
			if frameID == types.TopFrameID {
				slog.Debug("Tab navigated", "tab_id", tabID, "url", truncateURL(e.Frame.URL))
			}
			c.emit(navEvent{tabID: tabID, frameID: frameID})
		case *page.EventFrameDetached:
			c.tabRegistry.FrameDetached(tabID, e.FrameID)
		}
	}
}

func (c *Client) browserEventHandler() func(ev interface{}) {
	return func(ev interface{}) {
		switch e := ev.(type) {
		case *target.EventTargetCreated:
			info := e.TargetInfo
			if info == nil || info.Type != "page" || !c.matchesTabURL(info.URL) {
				return
			}
			if _, known := c.tabRegistry.TabID(info.TargetID); known {
				return
			}
			go func() {
				if err := c.attachToTab(info.TargetID, info.URL); err != nil {
					slog.Warn("Failed to attach to new tab", "target_id", info.TargetID, "error", err)
				}
			}()
		case *target.EventTargetDestroyed:
			tabID, ok := c.tabRegistry.Remove(e.TargetID)
			if !ok {
				return
			}
			c.tabsMu.Lock()
			if tab, ok := c.tabs[tabID]; ok {
				tab.cancel()
				delete(c.tabs, tabID)
			}
			c.tabsMu.Unlock()
			c.emit(navEvent{tabID: tabID, removed: true})
		}
	}
}

func (c *Client) emit(evt navEvent) {
	select {
	case c.events <- evt:
	case <-c.done:
	default:
		slog.Warn("cdp: navigation event dropped", "tab_id", evt.tabID, "frame_id", evt.frameID)
	}
}

// deliver hands events to the handler in the order they were observed.
func (c *Client) deliver(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case evt := <-c.events:
			c.handlerMu.RLock()
			h := c.handler
			c.handlerMu.RUnlock()
			if h == nil {
				continue
			}
			if evt.removed {
				h.HandleTabRemoved(ctx, evt.tabID)
			} else {
				h.HandleNavigationCommitted(ctx, evt.tabID, evt.frameID)
			}
		}
	}
}

// GetFrameDetails answers from the registry, refreshing the tab's frame
// tree once when the frame is not yet known. Unknown frames yield nil.
func (c *Client) GetFrameDetails(ctx context.Context, tabID, frameID int) (*types.FrameDetails, error) {
	if d, ok := c.tabRegistry.FrameDetails(tabID, frameID); ok {
		return d, nil
	}
	c.tabsMu.RLock()
	tab, ok := c.tabs[tabID]
	c.tabsMu.RUnlock()
	if !ok {
		return nil, nil
	}

	runCtx, cancel := context.WithTimeout(tab.ctx, frameTreeTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var tree *page.FrameTree
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		tree, err = page.GetFrameTree().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, types.NewError(types.CodeTransportUnavailable, "cdp: get frame tree", err)
	}
	c.tabRegistry.SetFrameTree(tabID, tree)
	d, ok := c.tabRegistry.FrameDetails(tabID, frameID)
	if !ok {
		return nil, nil
	}
	return d, nil
}

func (c *Client) Close() error {
	close(c.done)

	c.tabsMu.Lock()
	for _, tab := range c.tabs {
		tab.cancel()
	}
	c.tabs = make(map[int]*TabContext)
	c.tabsMu.Unlock()

	if c.browserCancel != nil {
		c.browserCancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}

	slog.Info("CDP client closed")
	return nil
}

func (c *Client) GetTabCount() int {
	c.tabsMu.RLock()
	defer c.tabsMu.RUnlock()
	return len(c.tabs)
}

func (c *Client) matchesTabURL(url string) bool {
	if c.urlFilter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), strings.ToLower(c.urlFilter))
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
