package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/dgnsrekt/overlay_agent/internal/types"
)

// conn is one extension shim connection. Replies are routed by the read
// loop; everything else is queued and dispatched in arrival order on a
// single goroutine so handlers never observe reordered events.
type conn struct {
	id   string
	hub  *Hub
	net  net.Conn
	seq  atomic.Int64
	wmu  sync.Mutex
	done chan struct{}

	pendingMu sync.Mutex
	pending   map[string]chan Envelope

	portsMu sync.Mutex
	ports   map[string]*port

	queue *mailbox
}

func newConn(hub *Hub, nc net.Conn) *conn {
	return &conn{
		id:      uuid.NewString(),
		hub:     hub,
		net:     nc,
		done:    make(chan struct{}),
		pending: make(map[string]chan Envelope),
		ports:   make(map[string]*port),
		queue:   newMailbox(),
	}
}

func (c *conn) serve(ctx context.Context) {
	go c.dispatchLoop(ctx)
	c.readLoop()
	c.queue.close()
	<-c.done
}

func (c *conn) readLoop() {
	for {
		data, err := wsutil.ReadClientText(c.net)
		if err != nil {
			slog.Debug("bridge read loop exit", "conn", c.id, "error", err)
			c.closeAllPending()
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("bridge: malformed envelope", "conn", c.id, "error", err)
			continue
		}
		if env.Type == TypeReply {
			c.resolve(env)
			continue
		}
		c.queue.push(env)
	}
}

func (c *conn) dispatchLoop(ctx context.Context) {
	defer close(c.done)
	for {
		env, ok := c.queue.pop()
		if !ok {
			break
		}
		c.dispatch(ctx, env)
	}
	c.disconnectAllPorts(ctx)
}

// dispatch runs one inbound envelope. A panicking handler is logged and the
// connection keeps serving.
func (c *conn) dispatch(ctx context.Context, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bridge: handler panic", "conn", c.id, "type", env.Type, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	h := c.hub.handler()
	if h == nil {
		slog.Warn("bridge: no handler attached, dropping envelope", "type", env.Type)
		return
	}

	switch env.Type {
	case TypeMessage:
		c.handleMessage(ctx, h, env)
	case TypePortConnect:
		p := &port{id: env.PortID, name: types.PortName(env.Name), sender: env.sender(), conn: c}
		c.portsMu.Lock()
		c.ports[p.id] = p
		c.portsMu.Unlock()
		h.HandlePortConnect(ctx, p)
	case TypePortMessage:
		p := c.lookupPort(env.PortID)
		if p == nil {
			return
		}
		msg, err := types.DecodePortMessage(env.Message)
		if err != nil {
			slog.Debug("bridge: port message dropped", "port", p.name, "error", err)
			return
		}
		h.HandlePortMessage(ctx, p, msg)
	case TypePortDisconnect:
		c.portsMu.Lock()
		p := c.ports[env.PortID]
		delete(c.ports, env.PortID)
		c.portsMu.Unlock()
		if p != nil {
			h.HandlePortDisconnect(ctx, p)
		}
	case TypeNavigationCommitted:
		h.HandleNavigationCommitted(ctx, derefInt(env.TabID), derefInt(env.FrameID))
	case TypeTabRemoved:
		h.HandleTabRemoved(ctx, derefInt(env.TabID))
	case TypeTabActivated:
		h.HandleTabActivated(ctx, derefInt(env.TabID))
	default:
		slog.Debug("bridge: unknown envelope type", "type", env.Type)
	}
}

func (c *conn) handleMessage(ctx context.Context, h Handler, env Envelope) {
	resp := Envelope{Type: TypeResponse, ID: env.ID}
	defer func() {
		if env.ID == "" {
			return
		}
		if err := c.write(resp); err != nil {
			slog.Debug("bridge: response write failed", "conn", c.id, "error", err)
		}
	}()

	msg, err := types.DecodeExtensionMessage(env.Message)
	if err != nil {
		slog.Debug("bridge: extension message dropped", "error", err)
		return
	}
	out, ok := h.HandleExtensionMessage(ctx, msg, env.sender())
	if !ok {
		return
	}
	data, err := json.Marshal(out)
	if err != nil {
		slog.Warn("bridge: marshal response", "command", msg.ExtensionCommand(), "error", err)
		return
	}
	resp.Data = data
}

func (c *conn) lookupPort(id string) *port {
	c.portsMu.Lock()
	defer c.portsMu.Unlock()
	return c.ports[id]
}

// disconnectAllPorts reports every multiplexed port as disconnected after
// the shim goes away.
func (c *conn) disconnectAllPorts(ctx context.Context) {
	c.portsMu.Lock()
	ports := make([]*port, 0, len(c.ports))
	for _, p := range c.ports {
		ports = append(ports, p)
	}
	c.ports = make(map[string]*port)
	c.portsMu.Unlock()

	h := c.hub.handler()
	if h == nil {
		return
	}
	for _, p := range ports {
		h.HandlePortDisconnect(ctx, p)
	}
}

func (c *conn) write(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("bridge: marshal %s: %w", env.Type, err)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := wsutil.WriteServerMessage(c.net, ws.OpText, data); err != nil {
		return fmt.Errorf("bridge: write %s: %w", env.Type, err)
	}
	return nil
}

// request sends env and waits for the shim's reply.
func (c *conn) request(ctx context.Context, env Envelope) (json.RawMessage, error) {
	id := strconv.FormatInt(c.seq.Add(1), 10)
	env.ID = id
	ch := make(chan Envelope, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.write(env); err != nil {
		c.deletePending(id)
		return nil, types.NewError(types.CodeTransportUnavailable, "send to extension", err)
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, types.NewError(types.CodeTransportUnavailable, "extension disconnected", nil)
		}
		if reply.Error != "" {
			return nil, types.NewError(types.CodeInternal, env.Type+": "+reply.Error, nil)
		}
		return reply.Data, nil
	case <-ctx.Done():
		c.deletePending(id)
		return nil, types.NewError(types.CodeTimeout, env.Type+" timed out", ctx.Err())
	}
}

func (c *conn) resolve(env Envelope) {
	c.pendingMu.Lock()
	ch, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- env
	}
}

func (c *conn) deletePending(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *conn) closeAllPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// port is a long-lived extension port multiplexed over a shim connection.
type port struct {
	id     string
	name   types.PortName
	sender types.Sender
	conn   *conn
}

func (p *port) ID() string           { return p.id }
func (p *port) Name() types.PortName { return p.name }
func (p *port) Sender() types.Sender { return p.sender }

func (p *port) PostMessage(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("bridge: marshal port message", "port", p.name, "error", err)
		return
	}
	if err := p.conn.write(Envelope{Type: TypePortPostMessage, PortID: p.id, Message: data}); err != nil {
		slog.Debug("bridge: port post failed", "port", p.name, "error", err)
	}
}

// Disconnect closes the port from this side. The coordinator is not told;
// it initiated the disconnect.
func (p *port) Disconnect() {
	p.conn.portsMu.Lock()
	delete(p.conn.ports, p.id)
	p.conn.portsMu.Unlock()
	if err := p.conn.write(Envelope{Type: TypePortDisconnect, PortID: p.id}); err != nil {
		slog.Debug("bridge: port disconnect failed", "port", p.name, "error", err)
	}
}
