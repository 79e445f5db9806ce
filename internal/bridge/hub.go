package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"

	"github.com/dgnsrekt/overlay_agent/internal/overlay"
	"github.com/dgnsrekt/overlay_agent/internal/types"
)

// DefaultTimeout bounds every request sent to the extension shim.
const DefaultTimeout = 2 * time.Second

// Handler receives the events the extension shim relays.
type Handler interface {
	HandleExtensionMessage(ctx context.Context, msg types.ExtensionMessage, sender types.Sender) (any, bool)
	HandlePortConnect(ctx context.Context, port overlay.Port)
	HandlePortMessage(ctx context.Context, port overlay.Port, msg types.PortMessage)
	HandlePortDisconnect(ctx context.Context, port overlay.Port)
	HandleNavigationCommitted(ctx context.Context, tabID, frameID int)
	HandleTabRemoved(ctx context.Context, tabID int)
	HandleTabActivated(ctx context.Context, tabID int)
}

// Hub accepts extension shim connections and exposes them to the
// coordinator as its host messaging surface. Outbound requests go to the
// most recently connected shim.
type Hub struct {
	timeout time.Duration

	mu      sync.RWMutex
	h       Handler
	conns   map[string]*conn
	primary *conn
}

func NewHub(timeout time.Duration) *Hub {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Hub{timeout: timeout, conns: make(map[string]*conn)}
}

// SetHandler attaches the coordinator. Envelopes arriving before a handler
// is attached are dropped.
func (hub *Hub) SetHandler(h Handler) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.h = h
}

func (hub *Hub) handler() Handler {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return hub.h
}

// Connections reports how many shims are attached.
func (hub *Hub) Connections() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.conns)
}

// ServeHTTP upgrades the request to a websocket and serves the shim until it
// disconnects.
func (hub *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	nc, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		slog.Warn("bridge: websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := newConn(hub, nc)
	hub.add(c)
	slog.Info("extension shim connected", "conn", c.id, "remote", r.RemoteAddr)

	defer func() {
		hub.remove(c)
		nc.Close()
		slog.Info("extension shim disconnected", "conn", c.id)
	}()
	c.serve(context.WithoutCancel(r.Context()))
}

func (hub *Hub) add(c *conn) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.conns[c.id] = c
	hub.primary = c
}

func (hub *Hub) remove(c *conn) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	delete(hub.conns, c.id)
	if hub.primary == c {
		hub.primary = nil
		for _, other := range hub.conns {
			hub.primary = other
			break
		}
	}
}

func (hub *Hub) request(ctx context.Context, env Envelope) (json.RawMessage, error) {
	hub.mu.RLock()
	c := hub.primary
	hub.mu.RUnlock()
	if c == nil {
		return nil, types.NewError(types.CodeTransportUnavailable, "no extension connected", nil)
	}
	ctx, cancel := context.WithTimeout(ctx, hub.timeout)
	defer cancel()
	return c.request(ctx, env)
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// TabSendMessage delivers msg to one frame of a tab and returns its reply.
func (hub *Hub) TabSendMessage(ctx context.Context, tab *types.Tab, msg any, frameID int) (json.RawMessage, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, types.NewError(types.CodeValidation, "marshal tab message", err)
	}
	return hub.request(ctx, Envelope{Type: TypeTabSendMessage, TabID: intPtr(tab.ID), FrameID: intPtr(frameID), Message: data})
}

// SendMessage broadcasts msg to the extension's own pages.
func (hub *Hub) SendMessage(ctx context.Context, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return types.NewError(types.CodeValidation, "marshal runtime message", err)
	}
	_, err = hub.request(ctx, Envelope{Type: TypeSendMessage, Message: data})
	return err
}

// CurrentTab returns the active tab of the focused window, or nil.
func (hub *Hub) CurrentTab(ctx context.Context) (*types.Tab, error) {
	return hub.tab(ctx, Envelope{Type: TypeCurrentTab})
}

func (hub *Hub) GetTab(ctx context.Context, tabID int) (*types.Tab, error) {
	return hub.tab(ctx, Envelope{Type: TypeGetTab, TabID: intPtr(tabID)})
}

func (hub *Hub) tab(ctx context.Context, env Envelope) (*types.Tab, error) {
	raw, err := hub.request(ctx, env)
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	var tab types.Tab
	if err := json.Unmarshal(raw, &tab); err != nil {
		return nil, types.NewError(types.CodeValidation, "decode tab", err)
	}
	return &tab, nil
}

// GetFrameDetails asks the shim for a frame's parent. Unknown frames yield
// nil.
func (hub *Hub) GetFrameDetails(ctx context.Context, tabID, frameID int) (*types.FrameDetails, error) {
	raw, err := hub.request(ctx, Envelope{Type: TypeGetFrame, TabID: intPtr(tabID), FrameID: intPtr(frameID)})
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	var reply struct {
		ParentFrameID *int   `json:"parentFrameId"`
		URL           string `json:"url"`
		DocumentID    string `json:"documentId"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, types.NewError(types.CodeValidation, "decode frame details", err)
	}
	details := &types.FrameDetails{FrameID: frameID, ParentFrameID: -1, URL: reply.URL, DocumentID: reply.DocumentID}
	if reply.ParentFrameID != nil {
		details.ParentFrameID = *reply.ParentFrameID
	}
	return details, nil
}
