package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/overlay_agent/internal/pagedetails"
	"github.com/dgnsrekt/overlay_agent/internal/subframe"
	"github.com/dgnsrekt/overlay_agent/internal/types"
)

// Background coordinates the inline menu across every tab: it tracks the
// focused field, the two iframe UI ports and the cipher handles served to the
// list, and decides when the menu is shown, moved or closed.
type Background struct {
	deps  Deps
	opts  Options
	pages *pagedetails.Store
	build *subframe.Builder
	ports *portRegistry

	mu                      sync.Mutex
	focusedField            *types.FocusedFieldData
	isFieldCurrentlyFocused bool
	isFieldCurrentlyFilling bool
	isButtonVisible         bool
	isListVisible           bool
	ciphers                 cipherHandles
	cardAndIdentity         []types.CipherView
	cardAndIdentityFetched  bool
	position                types.InlineMenuPosition
	unlockRetryQueuedAt     time.Time

	delayedClose *debouncer
	fadeIn       *debouncer
	reposition   *debouncer
	rebuild      *debouncer

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a coordinator. Messenger, Auth and Ciphers must be set.
func New(deps Deps, opts Options) (*Background, error) {
	if deps.Messenger == nil || deps.Auth == nil || deps.Ciphers == nil {
		return nil, types.NewError(types.CodeValidation, "overlay: messenger, auth and ciphers are required", nil)
	}
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	b := &Background{
		deps:         deps,
		opts:         opts,
		pages:        pagedetails.NewStore(),
		ports:        newPortRegistry(opts.PortKeyLength),
		delayedClose: newDebouncer(opts.DelayedCloseDelay),
		fadeIn:       newDebouncer(opts.FadeInDelay),
		reposition:   newDebouncer(opts.RepositionDelay),
		rebuild:      newDebouncer(opts.SubFrameRebuildDelay),
		ctx:          ctx,
		cancel:       cancel,
	}
	b.build = subframe.NewBuilder(subframe.NewGraph(), deps.Frames, deps.Messenger, opts.MaxSubFrameDepth)
	return b, nil
}

// Close stops pending timers. In-flight handlers observe a cancelled context.
func (b *Background) Close() {
	b.delayedClose.Cancel()
	b.fadeIn.Cancel()
	b.reposition.Cancel()
	b.rebuild.Cancel()
	b.cancel()
}

// --- outbound helpers ---

func (b *Background) publish(evt TrafficEvent) {
	if b.deps.Events != nil {
		b.deps.Events.Publish(evt)
	}
}

// sendToTab delivers msg to one frame and returns its raw reply. Transport
// failures are logged and reported as no reply.
func (b *Background) sendToTab(ctx context.Context, tab *types.Tab, msg any, frameID int) json.RawMessage {
	if tab == nil {
		return nil
	}
	b.publish(TrafficEvent{Target: "tab", Command: commandOf(msg), TabID: tab.ID, FrameID: frameID})
	raw, err := b.deps.Messenger.TabSendMessage(ctx, tab, msg, frameID)
	if err != nil {
		slog.Debug("tab message failed", "tab_id", tab.ID, "frame_id", frameID, "command", commandOf(msg), "error", err)
		return nil
	}
	return raw
}

func (b *Background) postToPort(name types.PortName, msg any) {
	port := b.ports.get(name)
	if port == nil {
		return
	}
	evt := TrafficEvent{Target: "port:" + string(name), Command: commandOf(msg)}
	if list, ok := msg.(types.ListCiphersMessage); ok {
		evt.Count = len(list.Ciphers)
	}
	if tab := port.Sender().Tab; tab != nil {
		evt.TabID = tab.ID
	}
	b.publish(evt)
	port.PostMessage(msg)
}

func (b *Background) postToButton(msg any) { b.postToPort(types.PortButton, msg) }
func (b *Background) postToList(msg any)   { b.postToPort(types.PortList, msg) }

func commandOf(msg any) types.Command {
	switch m := msg.(type) {
	case types.CommandMessage:
		return m.Command
	case types.OpenInlineMenuMessage:
		return m.Command
	case types.CloseInlineMenuMessage:
		return m.Command
	case types.OverlayElementMessage:
		return m.Command
	case types.GetSubFrameOffsetsMessage:
		return m.Command
	case types.SubFrameIDMessage:
		return m.Command
	case types.StylesMessage:
		return m.Command
	case types.ListCiphersMessage:
		return m.Command
	case types.AuthStatusMessage:
		return m.Command
	case types.RedirectFocusOutMessage:
		return m.Command
	case types.AddNewVaultItemFromOverlayMessage:
		return m.Command
	case types.InitInlineMenuMessage:
		return m.Command
	case types.PopoutMessage:
		return m.Command
	case types.CiphersPopulatedMessage:
		return m.Command
	case types.FillFormMessage:
		return m.Command
	}
	return ""
}

func (b *Background) authStatus(ctx context.Context) types.AuthStatus {
	status, err := b.deps.Auth.Status(ctx)
	if err != nil {
		slog.Debug("auth status lookup failed", "error", err)
		return types.AuthStatusLoggedOut
	}
	return status
}

// focused returns a copy of the focused field, if any.
func (b *Background) focused() (types.FocusedFieldData, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.focusedField == nil {
		return types.FocusedFieldData{}, false
	}
	return *b.focusedField, true
}

func (b *Background) fieldFocused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isFieldCurrentlyFocused
}

// senderHasFocusedField reports whether sender is the frame holding the
// focused field.
func (b *Background) senderHasFocusedField(sender types.Sender) bool {
	f, ok := b.focused()
	tabID, hasTab := sender.TabID()
	return ok && hasTab && f.TabID == tabID && f.FrameID == sender.FrameID
}

// focusedTab resolves the focused field's tab. A lookup failure still yields
// a tab carrying the id so messages can be addressed.
func (b *Background) focusedTab(ctx context.Context, tabID int) *types.Tab {
	tab, err := b.deps.Messenger.GetTab(ctx, tabID)
	if err != nil || tab == nil {
		return &types.Tab{ID: tabID}
	}
	return tab
}

// --- session lifecycle ---

// removePageDetails clears the tab's page details and its port key.
func (b *Background) removePageDetails(tabID int) {
	b.pages.RemoveTab(tabID)
	b.ports.removeKey(tabID)
}

// HandleNavigationCommitted invalidates state owned by a navigated frame.
// Top frame navigation drops the whole tab.
func (b *Background) HandleNavigationCommitted(ctx context.Context, tabID, frameID int) {
	graph := b.build.Graph()
	if frameID == types.TopFrameID {
		b.removePageDetails(tabID)
		graph.RemoveTab(tabID)
	} else {
		graph.Delete(tabID, frameID)
	}

	b.mu.Lock()
	if f := b.focusedField; f != nil && f.TabID == tabID && (frameID == types.TopFrameID || f.FrameID == frameID) {
		b.focusedField = nil
	}
	b.mu.Unlock()
	slog.Debug("navigation committed", "tab_id", tabID, "frame_id", frameID)
}

// HandleTabRemoved forgets everything recorded for a closed tab.
func (b *Background) HandleTabRemoved(ctx context.Context, tabID int) {
	b.removePageDetails(tabID)
	b.build.Graph().RemoveTab(tabID)
	b.mu.Lock()
	if b.focusedField != nil && b.focusedField.TabID == tabID {
		b.focusedField = nil
	}
	b.mu.Unlock()
	slog.Debug("tab removed", "tab_id", tabID)
}

// HandleTabActivated refreshes the list for the newly active tab without
// re-querying card and identity ciphers.
func (b *Background) HandleTabActivated(ctx context.Context, tabID int) {
	b.updateOverlayCiphers(ctx, false)
}

// --- ports ---

// HandlePortConnect registers an overlay port. Unknown port names are
// ignored. UI ports receive their init handshake immediately.
func (b *Background) HandlePortConnect(ctx context.Context, port Port) {
	element, ok := port.Name().Element()
	if !ok {
		slog.Debug("ignoring unrelated port", "port", port.Name())
		return
	}
	tabID, hasTab := port.Sender().TabID()
	if !hasTab {
		slog.Debug("ignoring port without tab", "port", port.Name())
		return
	}
	b.ports.register(port)
	if port.Name().IsConnector() {
		slog.Debug("message connector attached", "port", port.Name(), "tab_id", tabID)
		return
	}

	portKey := b.ports.ensureKey(tabID)
	status := b.authStatus(ctx)
	init := types.InitInlineMenuMessage{
		AuthStatus:   status,
		PortKey:      portKey,
		Translations: translations(),
	}
	if b.deps.Settings != nil {
		if theme, err := b.deps.Settings.Theme(ctx); err == nil {
			init.Theme = theme
		}
	}
	if element == types.OverlayElementList {
		init.Command = types.CmdInitAutofillInlineMenuList
		init.PortName = types.PortListMessageConnector
		init.Ciphers = b.cipherData(ctx)
	} else {
		init.Command = types.CmdInitAutofillInlineMenuButton
		init.PortName = types.PortButtonMessageConnector
	}
	b.postToPort(port.Name(), init)
	slog.Info("inline menu port connected", "port", port.Name(), "tab_id", tabID, "frame_id", port.Sender().FrameID)

	b.updateInlineMenuPosition(ctx, element, port.Sender())
}

// HandlePortDisconnect clears the port's slot or its expired entry and
// disconnects whatever superseded ports remain.
func (b *Background) HandlePortDisconnect(ctx context.Context, port Port) {
	if b.ports.removeExpired(port) {
		slog.Debug("expired port disconnected", "port", port.Name())
	} else if b.ports.clear(port) {
		b.mu.Lock()
		switch port.Name() {
		case types.PortButton:
			b.isButtonVisible = false
			b.position.Button = nil
		case types.PortList:
			b.isListVisible = false
			b.position.List = nil
		}
		b.mu.Unlock()
		slog.Debug("inline menu port disconnected", "port", port.Name())
	}
	for _, old := range b.ports.drainExpired() {
		old.Disconnect()
	}
}

// HandlePortMessage validates msg against the tab's port key and the
// sending port's registration, then dispatches it by the port's role.
func (b *Background) HandlePortMessage(ctx context.Context, port Port, msg types.PortMessage) {
	if b.ports.isExpired(port) {
		b.ports.removeExpired(port)
		slog.Debug("dropping message from expired port", "port", port.Name(), "command", msg.PortCommand())
		return
	}
	if !b.ports.isRegistered(port) {
		slog.Debug("dropping message from unregistered port", "port", port.Name(), "command", msg.PortCommand())
		return
	}
	tabID, hasTab := port.Sender().TabID()
	if !hasTab {
		return
	}
	key, ok := b.ports.key(tabID)
	if !ok || key == "" || key != msg.Key() {
		slog.Warn("port message rejected: port key mismatch", "port", port.Name(), "tab_id", tabID, "command", msg.PortCommand())
		return
	}

	element, _ := port.Name().Element()
	if element == types.OverlayElementButton {
		b.handleButtonPortMessage(ctx, port, msg)
		return
	}
	b.handleListPortMessage(ctx, port, msg)
}

// --- inspection ---

// State is a point-in-time view of the coordinator for diagnostics.
type State struct {
	FocusedField            *types.FocusedFieldData  `json:"focused_field,omitempty"`
	IsFieldCurrentlyFocused bool                     `json:"is_field_currently_focused"`
	IsFieldCurrentlyFilling bool                     `json:"is_field_currently_filling"`
	IsButtonVisible         bool                     `json:"is_button_visible"`
	IsListVisible           bool                     `json:"is_list_visible"`
	Position                types.InlineMenuPosition `json:"position"`
	Ports                   []types.PortName         `json:"ports"`
	ExpiredPorts            int                      `json:"expired_ports"`
	CipherHandles           int                      `json:"cipher_handles"`
}

func (b *Background) State() State {
	b.mu.Lock()
	s := State{
		IsFieldCurrentlyFocused: b.isFieldCurrentlyFocused,
		IsFieldCurrentlyFilling: b.isFieldCurrentlyFilling,
		IsButtonVisible:         b.isButtonVisible,
		IsListVisible:           b.isListVisible,
		Position:                b.position,
		CipherHandles:           b.ciphers.len(),
	}
	if b.focusedField != nil {
		f := *b.focusedField
		s.FocusedField = &f
	}
	b.mu.Unlock()
	s.Ports = b.ports.connected()
	s.ExpiredPorts = b.ports.expiredCount()
	return s
}

// InlineMenuCiphers lists the current handles in menu order.
func (b *Background) InlineMenuCiphers() []CipherHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]CipherHandle, 0, b.ciphers.len())
	for _, e := range b.ciphers.snapshot() {
		out = append(out, CipherHandle{Handle: e.handle, CipherID: e.cipher.ID, Type: e.cipher.Type})
	}
	return out
}

func (b *Background) PageDetails(tabID int) []types.PageDetails {
	return b.pages.ForTab(tabID)
}

// SubFrameOffsets returns the tab's offset graph. Pending frames map to nil.
func (b *Background) SubFrameOffsets(tabID int) map[int]*types.SubFrameOffset {
	return b.build.Graph().Snapshot(tabID)
}

// UnlockCompleted runs the post-unlock flow for callers outside the
// extension, such as the HTTP unlock endpoint.
func (b *Background) UnlockCompleted(ctx context.Context) {
	b.handleUnlockCompleted(ctx, &types.UnlockCompleted{})
}

// VaultLocked pushes the locked status to the button and closes the menu.
func (b *Background) VaultLocked(ctx context.Context) {
	b.mu.Lock()
	b.ciphers.rebuild(nil)
	b.cardAndIdentity = nil
	b.cardAndIdentityFetched = false
	b.mu.Unlock()
	b.updateInlineMenuButtonAuthStatus(ctx)
	b.updateOverlayCiphers(ctx, true)
}

var errNoTab = errors.New("overlay: sender has no tab")

func senderTab(sender types.Sender) (*types.Tab, error) {
	if sender.Tab == nil {
		return nil, errNoTab
	}
	return sender.Tab, nil
}

func translations() map[string]string {
	return map[string]string{
		"locale":             "en",
		"buttonPageTitle":    "Autofill button",
		"listPageTitle":      "Autofill list",
		"unlockYourAccount":  "Unlock your account to view matching logins",
		"unlockAccount":      "Unlock account",
		"fillCredentialsFor": "Fill credentials for",
		"username":           "username",
		"view":               "view",
		"noItemsToShow":      "No items to show",
		"newItem":            "New item",
		"addNewVaultItem":    "Add new vault item",
		"toggleVaultOverlay": "Toggle vault overlay",
	}
}
