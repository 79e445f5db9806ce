package overlay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/overlay_agent/internal/types"
)

type sentMessage struct {
	TabID   int
	FrameID int
	Msg     any
}

func (s sentMessage) Command() types.Command { return commandOf(s.Msg) }

type fakeMessenger struct {
	mu         sync.Mutex
	sent       []sentMessage
	broadcasts []any
	replies    map[types.Command]json.RawMessage
	currentTab *types.Tab
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{replies: make(map[types.Command]json.RawMessage)}
}

func (m *fakeMessenger) TabSendMessage(_ context.Context, tab *types.Tab, msg any, frameID int) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{TabID: tab.ID, FrameID: frameID, Msg: msg})
	return m.replies[commandOf(msg)], nil
}

func (m *fakeMessenger) SendMessage(_ context.Context, msg any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcasts = append(m.broadcasts, msg)
	return nil
}

func (m *fakeMessenger) CurrentTab(context.Context) (*types.Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTab, nil
}

func (m *fakeMessenger) GetTab(_ context.Context, tabID int) (*types.Tab, error) {
	return &types.Tab{ID: tabID}, nil
}

func (m *fakeMessenger) reply(cmd types.Command, raw string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[cmd] = json.RawMessage(raw)
}

func (m *fakeMessenger) withCommand(cmd types.Command) []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentMessage
	for _, s := range m.sent {
		if s.Command() == cmd {
			out = append(out, s)
		}
	}
	return out
}

func (m *fakeMessenger) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

type fakePort struct {
	id     string
	name   types.PortName
	sender types.Sender

	mu           sync.Mutex
	posted       []any
	disconnected bool
}

func newFakePort(id string, name types.PortName, tabID int) *fakePort {
	return &fakePort{id: id, name: name, sender: types.Sender{Tab: &types.Tab{ID: tabID, URL: "https://example.com/login"}}}
}

func (p *fakePort) ID() string           { return p.id }
func (p *fakePort) Name() types.PortName { return p.name }
func (p *fakePort) Sender() types.Sender { return p.sender }

func (p *fakePort) PostMessage(msg any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posted = append(p.posted, msg)
}

func (p *fakePort) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = true
}

func (p *fakePort) withCommand(cmd types.Command) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []any
	for _, m := range p.posted {
		if commandOf(m) == cmd {
			out = append(out, m)
		}
	}
	return out
}

func (p *fakePort) isDisconnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnected
}

type fakeAuth struct {
	mu     sync.Mutex
	status types.AuthStatus
}

func (a *fakeAuth) Status(context.Context) (types.AuthStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status, nil
}

func (a *fakeAuth) set(s types.AuthStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = s
}

type fakeCiphers struct {
	mu      sync.Mutex
	ciphers []types.CipherView
	calls   [][]types.CipherType
	staged  []types.CipherView
}

func (c *fakeCiphers) AllDecryptedForURL(_ context.Context, _ string, includeTypes []types.CipherType) ([]types.CipherView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, includeTypes)
	var out []types.CipherView
	for _, cipher := range c.ciphers {
		if cipher.Type == types.CipherTypeLogin {
			out = append(out, cipher)
			continue
		}
		for _, t := range includeTypes {
			if t == cipher.Type {
				out = append(out, cipher)
			}
		}
	}
	return out, nil
}

func (c *fakeCiphers) SetAddEditCipherInfo(_ context.Context, cipher types.CipherView) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.staged = append(c.staged, cipher)
	return nil
}

func (c *fakeCiphers) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type fakeAutofill struct {
	reprompt bool
	totp     string
	fills    []FillRequest
}

func (a *fakeAutofill) IsPasswordRepromptRequired(context.Context, types.CipherView, *types.Tab) (bool, error) {
	return a.reprompt, nil
}

func (a *fakeAutofill) DoAutoFill(_ context.Context, req FillRequest) (string, error) {
	a.fills = append(a.fills, req)
	return a.totp, nil
}

type fakeClipboard struct{ copied []string }

func (c *fakeClipboard) Copy(text string) error {
	c.copied = append(c.copied, text)
	return nil
}

type fakeAuditor struct{ events []string }

func (a *fakeAuditor) Record(event string, _, _ int, _ string) { a.events = append(a.events, event) }

type fakePopouts struct{ unlock, addEdit, view []int }

func (p *fakePopouts) OpenUnlock(_ context.Context, tab *types.Tab) error {
	p.unlock = append(p.unlock, tab.ID)
	return nil
}

func (p *fakePopouts) OpenAddEditVaultItem(_ context.Context, tab *types.Tab, _ string) error {
	p.addEdit = append(p.addEdit, tab.ID)
	return nil
}

func (p *fakePopouts) OpenViewVaultItem(_ context.Context, tab *types.Tab, _ string) error {
	p.view = append(p.view, tab.ID)
	return nil
}

// fakeFrames answers parent lookups from a child -> parent map.
type fakeFrames map[int]int

func (f fakeFrames) GetFrameDetails(_ context.Context, _ int, frameID int) (*types.FrameDetails, error) {
	parent, ok := f[frameID]
	if !ok {
		return nil, nil
	}
	return &types.FrameDetails{FrameID: frameID, ParentFrameID: parent}, nil
}

type harness struct {
	bg        *Background
	messenger *fakeMessenger
	auth      *fakeAuth
	ciphers   *fakeCiphers
	autofill  *fakeAutofill
	clipboard *fakeClipboard
	audit     *fakeAuditor
	popouts   *fakePopouts
}

func newHarness(t *testing.T, frames fakeFrames) *harness {
	t.Helper()
	h := &harness{
		messenger: newFakeMessenger(),
		auth:      &fakeAuth{status: types.AuthStatusUnlocked},
		ciphers:   &fakeCiphers{},
		autofill:  &fakeAutofill{},
		clipboard: &fakeClipboard{},
		audit:     &fakeAuditor{},
		popouts:   &fakePopouts{},
	}
	h.messenger.currentTab = &types.Tab{ID: 1, URL: "https://example.com/login"}
	h.messenger.reply(types.CmdGetSubFrameOffsets, `{"left":10,"top":20,"url":"https://frame.example.com"}`)
	bg, err := New(Deps{
		Messenger: h.messenger,
		Frames:    frames,
		Auth:      h.auth,
		Ciphers:   h.ciphers,
		Autofill:  h.autofill,
		Clipboard: h.clipboard,
		Audit:     h.audit,
		Popouts:   h.popouts,
	}, Options{
		DelayedCloseDelay:    40 * time.Millisecond,
		FadeInDelay:          10 * time.Millisecond,
		RepositionDelay:      10 * time.Millisecond,
		SubFrameRebuildDelay: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(bg.Close)
	h.bg = bg
	return h
}

func senderFor(tabID, frameID int) types.Sender {
	return types.Sender{Tab: &types.Tab{ID: tabID, URL: "https://example.com/login"}, FrameID: frameID}
}

func (h *harness) send(msg types.ExtensionMessage, sender types.Sender) (any, bool) {
	return h.bg.HandleExtensionMessage(context.Background(), msg, sender)
}

func (h *harness) focus(tabID, frameID int) {
	h.send(&types.UpdateFocusedFieldData{FocusedFieldData: types.FocusedFieldData{
		FocusedFieldRects:  types.FocusedFieldRects{Top: 100, Left: 50, Width: 200, Height: 30},
		FocusedFieldStyles: types.FocusedFieldStyles{PaddingLeft: "4px", PaddingRight: "4px"},
	}}, senderFor(tabID, frameID))
}

// connect attaches a UI port and returns it with the tab's port key.
func (h *harness) connect(id string, name types.PortName, tabID int) (*fakePort, string) {
	p := newFakePort(id, name, tabID)
	h.bg.HandlePortConnect(context.Background(), p)
	key, _ := h.bg.ports.key(tabID)
	return p, key
}
