package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/overlay_agent/internal/overlay"
	"github.com/dgnsrekt/overlay_agent/internal/types"
)

type recordingHandler struct {
	mu           sync.Mutex
	messages     []types.ExtensionMessage
	connected    []overlay.Port
	portMsgs     []types.PortMessage
	disconnected []overlay.Port
	navigations  [][2]int
	removed      []int
}

func (h *recordingHandler) HandleExtensionMessage(_ context.Context, msg types.ExtensionMessage, sender types.Sender) (any, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
	if _, ok := msg.(*types.GetCurrentTabFrameID); ok {
		return sender.FrameID, true
	}
	return nil, false
}

func (h *recordingHandler) HandlePortConnect(_ context.Context, p overlay.Port) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = append(h.connected, p)
}

func (h *recordingHandler) HandlePortMessage(_ context.Context, _ overlay.Port, msg types.PortMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.portMsgs = append(h.portMsgs, msg)
}

func (h *recordingHandler) HandlePortDisconnect(_ context.Context, p overlay.Port) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected = append(h.disconnected, p)
}

func (h *recordingHandler) HandleNavigationCommitted(_ context.Context, tabID, frameID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.navigations = append(h.navigations, [2]int{tabID, frameID})
}

func (h *recordingHandler) HandleTabRemoved(_ context.Context, tabID int) {
	if tabID < 0 {
		panic("negative tab id")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = append(h.removed, tabID)
}

func (h *recordingHandler) HandleTabActivated(context.Context, int) {}

func (h *recordingHandler) count(f func() int) func() int {
	return func() int {
		h.mu.Lock()
		defer h.mu.Unlock()
		return f()
	}
}

type shim struct {
	t    *testing.T
	conn net.Conn
}

func startHub(t *testing.T, timeout time.Duration) (*Hub, *recordingHandler, *shim) {
	t.Helper()
	hub := NewHub(timeout)
	h := &recordingHandler{}
	hub.SetHandler(h)
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, _, err := ws.Dial(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.Connections() == 1 }, time.Second, 5*time.Millisecond)
	return hub, h, &shim{t: t, conn: conn}
}

func (s *shim) send(raw string) {
	s.t.Helper()
	require.NoError(s.t, wsutil.WriteClientText(s.conn, []byte(raw)))
}

func (s *shim) read() Envelope {
	s.t.Helper()
	require.NoError(s.t, s.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	data, err := wsutil.ReadServerText(s.conn)
	require.NoError(s.t, err)
	var env Envelope
	require.NoError(s.t, json.Unmarshal(data, &env))
	return env
}

func TestMessageRoundTrip(t *testing.T) {
	_, _, s := startHub(t, time.Second)

	s.send(`{"type":"message","id":"7","message":{"command":"getCurrentTabFrameId"},"sender":{"tab":{"id":3},"frameId":12}}`)

	env := s.read()
	assert.Equal(t, TypeResponse, env.Type)
	assert.Equal(t, "7", env.ID)
	assert.JSONEq(t, `12`, string(env.Data))
}

func TestUnknownCommandStillResponds(t *testing.T) {
	_, h, s := startHub(t, time.Second)

	s.send(`{"type":"message","id":"8","message":{"command":"somethingElse"}}`)

	env := s.read()
	assert.Equal(t, "8", env.ID)
	assert.Empty(t, env.Data)
	assert.Equal(t, 0, h.count(func() int { return len(h.messages) })())
}

func TestOutboundRequestReply(t *testing.T) {
	hub, _, s := startHub(t, time.Second)

	type result struct {
		raw json.RawMessage
		err error
	}
	done := make(chan result, 1)
	go func() {
		raw, err := hub.TabSendMessage(context.Background(), &types.Tab{ID: 4}, types.CommandMessage{Command: types.CmdCheckMostRecentlyFocusedFieldInView}, 0)
		done <- result{raw, err}
	}()

	req := s.read()
	require.Equal(t, TypeTabSendMessage, req.Type)
	require.NotNil(t, req.FrameID)
	assert.Equal(t, 0, *req.FrameID)
	assert.Equal(t, 4, *req.TabID)
	assert.JSONEq(t, `{"command":"checkIsMostRecentlyFocusedFieldWithinViewport"}`, string(req.Message))

	s.send(`{"type":"reply","id":"` + req.ID + `","data":true}`)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "true", string(res.raw))
}

func TestRequestTimesOut(t *testing.T) {
	hub, _, s := startHub(t, 50*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := hub.CurrentTab(context.Background())
		done <- err
	}()
	req := s.read()
	require.Equal(t, TypeCurrentTab, req.Type)

	err := <-done
	var coded *types.CodedError
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, types.CodeTimeout, coded.Code)
}

func TestRequestWithoutShim(t *testing.T) {
	hub := NewHub(time.Second)
	_, err := hub.GetTab(context.Background(), 1)
	var coded *types.CodedError
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, types.CodeTransportUnavailable, coded.Code)
}

func TestGetFrameDetails(t *testing.T) {
	hub, _, s := startHub(t, time.Second)

	done := make(chan *types.FrameDetails, 1)
	go func() {
		d, _ := hub.GetFrameDetails(context.Background(), 1, 20)
		done <- d
	}()
	req := s.read()
	s.send(`{"type":"reply","id":"` + req.ID + `","data":{"parentFrameId":0,"url":"https://a.example"}}`)
	d := <-done
	require.NotNil(t, d)
	assert.Equal(t, 0, d.ParentFrameID)
	assert.Equal(t, 20, d.FrameID)

	go func() {
		d, _ := hub.GetFrameDetails(context.Background(), 1, 99)
		done <- d
	}()
	req = s.read()
	s.send(`{"type":"reply","id":"` + req.ID + `","data":null}`)
	assert.Nil(t, <-done)
}

func TestPortsAreMultiplexedAndDroppedWithShim(t *testing.T) {
	_, h, s := startHub(t, time.Second)

	s.send(`{"type":"portConnect","portId":"p1","name":"autofill-inline-menu-list-port","sender":{"tab":{"id":2},"frameId":0}}`)
	s.send(`{"type":"portMessage","portId":"p1","message":{"command":"unlockVault","portKey":"k"}}`)
	s.send(`{"type":"portMessage","portId":"unknown","message":{"command":"unlockVault","portKey":"k"}}`)
	s.send(`{"type":"navigationCommitted","tabId":2,"frameId":0}`)

	require.Eventually(t, func() bool {
		return h.count(func() int { return len(h.navigations) })() == 1
	}, time.Second, 5*time.Millisecond)

	h.mu.Lock()
	require.Len(t, h.connected, 1)
	assert.Equal(t, types.PortList, h.connected[0].Name())
	require.Len(t, h.portMsgs, 1)
	assert.Equal(t, "k", h.portMsgs[0].Key())
	assert.Equal(t, [2]int{2, 0}, h.navigations[0])
	h.mu.Unlock()

	// Posting from the daemon side reaches the shim.
	h.connected[0].PostMessage(types.CommandMessage{Command: types.CmdFadeInAutofillInlineMenuIframe})
	env := s.read()
	assert.Equal(t, TypePortPostMessage, env.Type)
	assert.Equal(t, "p1", env.PortID)

	s.conn.Close()
	require.Eventually(t, func() bool {
		return h.count(func() int { return len(h.disconnected) })() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHandlerPanicDoesNotKillConnection(t *testing.T) {
	_, h, s := startHub(t, time.Second)

	s.send(`{"type":"tabRemoved","tabId":-1}`)
	s.send(`{"type":"tabRemoved","tabId":5}`)
	s.send(`{"type":"message","id":"9","message":{"command":"getCurrentTabFrameId"},"sender":{"frameId":1}}`)

	env := s.read()
	assert.Equal(t, "9", env.ID)
	assert.Equal(t, []int{5}, func() []int {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.removed
	}())
}
