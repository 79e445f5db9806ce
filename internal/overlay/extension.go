package overlay

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/overlay_agent/internal/types"
)

// HandleExtensionMessage runs one one-shot message. The bool result reports
// whether the handler produced a response for the sender.
func (b *Background) HandleExtensionMessage(ctx context.Context, msg types.ExtensionMessage, sender types.Sender) (any, bool) {
	switch m := msg.(type) {
	case *types.CollectPageDetailsResponse:
		b.handleCollectPageDetailsResponse(ctx, m, sender)
	case *types.UpdateFocusedFieldData:
		b.setFocusedFieldData(ctx, m.FocusedFieldData, sender)
	case *types.UpdateIsFieldCurrentlyFocused:
		b.mu.Lock()
		b.isFieldCurrentlyFocused = m.IsFieldCurrentlyFocused
		b.mu.Unlock()
	case *types.UpdateIsFieldCurrentlyFilling:
		b.mu.Lock()
		b.isFieldCurrentlyFilling = m.IsFieldCurrentlyFilling
		b.mu.Unlock()
	case *types.TriggerAutofillOverlayReposition:
		b.triggerAutofillOverlayReposition(ctx, sender)
	case *types.OpenAutofillInlineMenu:
		b.openInlineMenu(ctx, m.IsFocusingFieldElement, m.IsOpeningFullInlineMenu)
	case *types.CloseAutofillInlineMenu:
		b.closeInlineMenu(ctx, sender.Tab, m.OverlayElement, m.ForceCloseInlineMenu)
	case *types.CheckIsInlineMenuCiphersPopulated:
		return b.checkIsInlineMenuCiphersPopulated(sender), true
	case *types.CheckIsFieldCurrentlyFocused:
		return b.fieldFocused(), true
	case *types.CheckIsFieldCurrentlyFilling:
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.isFieldCurrentlyFilling, true
	case *types.GetAutofillInlineMenuVisibility:
		return b.inlineMenuVisibility(ctx), true
	case *types.GetAutofillInlineMenuPosition:
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.position, true
	case *types.GetCurrentTabFrameID:
		return sender.FrameID, true
	case *types.UpdateAutofillInlineMenuPosition:
		b.updateInlineMenuPosition(ctx, m.OverlayElement, sender)
	case *types.AutofillOverlayAddNewVaultItem:
		b.addNewVaultItemFromDraft(ctx, m.Login, sender)
	case *types.UnlockCompleted:
		b.handleUnlockCompleted(ctx, m)
	case *types.CipherChanged:
		b.updateOverlayCiphers(ctx, true)
	case *types.DestroyAutofillInlineMenuListeners:
		b.sendToTab(ctx, sender.Tab, types.CommandMessage{Command: types.CmdDestroyAutofillInlineMenuListeners}, m.SubFrameData.FrameID)
	case *types.AutofillOverlayElementClosed:
		b.overlayElementClosed(m.OverlayElement, sender)
	case *types.UpdateSubFrameData:
		b.updateSubFrameData(m.SubFrameData, sender)
	case *types.TriggerSubFrameFocusInRebuild:
		b.triggerSubFrameFocusInRebuild(sender)
	case *types.UpdateAutofillInlineMenuElementIsVisibleStatus:
		b.setElementVisible(m.OverlayElement, m.IsVisible)
	case *types.CheckIsAutofillInlineMenuButtonVisible:
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.isButtonVisible, true
	case *types.CheckIsAutofillInlineMenuListVisible:
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.isListVisible, true
	case *types.CheckAutofillInlineMenuFocused:
		b.checkInlineMenuFocused(sender)
	case *types.FocusAutofillInlineMenuList:
		b.postToList(types.CommandMessage{Command: types.CmdFocusInlineMenuList})
	default:
		slog.Debug("unhandled extension message", "command", msg.ExtensionCommand())
	}
	return nil, false
}

func (b *Background) handleCollectPageDetailsResponse(ctx context.Context, m *types.CollectPageDetailsResponse, sender types.Sender) {
	tab, err := senderTab(sender)
	if err != nil {
		return
	}
	b.pages.Put(tab.ID, types.PageDetails{FrameID: sender.FrameID, Tab: tab, Details: m.Details})
	if sender.FrameID == types.TopFrameID {
		return
	}
	b.build.Build(ctx, tab, sender.FrameID, sender.URL, false)
	if len(m.Details.Fields) > 0 {
		b.sendToTab(ctx, tab, types.CommandMessage{Command: types.CmdSetupRebuildSubFrameOffsetsListeners}, sender.FrameID)
	}
}

// setFocusedFieldData replaces the focused field. The frame that held it
// before is told to forget its field.
func (b *Background) setFocusedFieldData(ctx context.Context, data types.FocusedFieldData, sender types.Sender) {
	tab, err := senderTab(sender)
	if err != nil {
		return
	}
	b.mu.Lock()
	previous := b.focusedField
	data.TabID = tab.ID
	data.FrameID = sender.FrameID
	b.focusedField = &data
	b.mu.Unlock()

	if previous != nil && (previous.TabID != tab.ID || previous.FrameID != sender.FrameID) {
		prevTab := tab
		if previous.TabID != tab.ID {
			prevTab = &types.Tab{ID: previous.TabID}
		}
		b.sendToTab(ctx, prevTab, types.CommandMessage{Command: types.CmdUnsetMostRecentlyFocusedField}, previous.FrameID)
	}
}

// triggerAutofillOverlayReposition repositions only for the focused field's
// frame or one of its recorded ancestors.
func (b *Background) triggerAutofillOverlayReposition(ctx context.Context, sender types.Sender) {
	f, ok := b.focused()
	if !ok {
		return
	}
	tabID, hasTab := sender.TabID()
	if !hasTab || tabID != f.TabID {
		return
	}
	if sender.FrameID != f.FrameID {
		offset, _ := b.build.Graph().Get(f.TabID, f.FrameID)
		if !offset.HasAncestor(sender.FrameID) {
			slog.Debug("reposition ignored from unrelated frame", "tab_id", tabID, "frame_id", sender.FrameID)
			return
		}
	}
	b.repositionInlineMenu(ctx, sender)
}

func (b *Background) repositionInlineMenu(ctx context.Context, sender types.Sender) {
	f, ok := b.focused()
	if !ok {
		return
	}
	tab := sender.Tab
	if !b.fieldFocused() {
		b.closeInlineMenu(ctx, tab, "", true)
		return
	}

	raw := b.sendToTab(ctx, tab, types.CommandMessage{Command: types.CmdCheckMostRecentlyFocusedFieldInView}, f.FrameID)
	if !replyIsTrue(raw) {
		b.closeInlineMenu(ctx, tab, "", true)
		return
	}

	if f.FrameID != types.TopFrameID {
		b.build.Build(ctx, tab, f.FrameID, b.frameURL(f.TabID, f.FrameID), true)
	}

	b.fadeIn.Cancel()
	b.toggleInlineMenuHidden(true)
	b.reposition.Trigger(func() {
		b.finishReposition(b.ctx, tab)
	})
}

// finishReposition re-appends the menu and pushes fresh positions once the
// page has settled.
func (b *Background) finishReposition(ctx context.Context, tab *types.Tab) {
	f, ok := b.focused()
	if !ok || tab == nil || tab.ID != f.TabID || !b.fieldFocused() {
		return
	}
	sender := types.Sender{Tab: tab, FrameID: f.FrameID}

	b.sendToTab(ctx, tab, types.OverlayElementMessage{Command: types.CmdAppendAutofillInlineMenuToDom, OverlayElement: types.OverlayElementButton}, types.TopFrameID)
	b.updateInlineMenuPosition(ctx, types.OverlayElementButton, sender)

	b.mu.Lock()
	listVisible := b.isListVisible
	b.mu.Unlock()
	if listVisible {
		b.sendToTab(ctx, tab, types.OverlayElementMessage{Command: types.CmdAppendAutofillInlineMenuToDom, OverlayElement: types.OverlayElementList}, types.TopFrameID)
		b.updateInlineMenuPosition(ctx, types.OverlayElementList, sender)
	}
	b.toggleInlineMenuHidden(false)
}

func (b *Background) toggleInlineMenuHidden(hidden bool) {
	display := "block"
	if hidden {
		display = "none"
	}
	msg := types.StylesMessage{Command: types.CmdToggleAutofillInlineMenuHidden, Styles: types.Styles{"display": display}}
	b.postToButton(msg)
	b.postToList(msg)
}

// startFadeIn fades both iframes in together once positions stop changing.
func (b *Background) startFadeIn() {
	b.fadeIn.Trigger(func() {
		msg := types.CommandMessage{Command: types.CmdFadeInAutofillInlineMenuIframe}
		b.postToButton(msg)
		b.postToList(msg)
	})
}

// updateInlineMenuPosition computes styles for one element relative to the
// focused field and pushes them to that element's port.
func (b *Background) updateInlineMenuPosition(ctx context.Context, element types.OverlayElement, sender types.Sender) {
	if element == "" {
		return
	}
	f, ok := b.focused()
	tabID, hasTab := sender.TabID()
	if !ok || !hasTab || tabID != f.TabID {
		return
	}

	var offset *types.SubFrameOffset
	if f.FrameID != types.TopFrameID {
		off, known := b.build.Graph().Get(f.TabID, f.FrameID)
		if off == nil {
			if !known {
				b.scheduleSubFrameRebuild(sender)
			}
			slog.Debug("sub-frame offset not ready, deferring position", "tab_id", f.TabID, "frame_id", f.FrameID)
			return
		}
		offset = off
	}

	if element == types.OverlayElementButton {
		styles := buttonPosition(&f, offset)
		b.mu.Lock()
		b.position.Button = styles
		b.mu.Unlock()
		b.postToButton(types.StylesMessage{Command: types.CmdUpdateAutofillInlineMenuPosition, Styles: styles})
	} else {
		styles := listPosition(&f, offset)
		b.mu.Lock()
		b.position.List = styles
		b.mu.Unlock()
		b.postToList(types.StylesMessage{Command: types.CmdUpdateAutofillInlineMenuPosition, Styles: styles})
	}
	b.startFadeIn()
}

// openInlineMenu asks the current tab to show the menu at the focused field.
func (b *Background) openInlineMenu(ctx context.Context, isFocusingFieldElement, isOpeningFullInlineMenu bool) {
	b.delayedClose.Cancel()
	tab, err := b.deps.Messenger.CurrentTab(ctx)
	if err != nil || tab == nil {
		slog.Debug("open inline menu: no current tab", "error", err)
		return
	}
	frameID := types.TopFrameID
	if f, ok := b.focused(); ok && f.TabID == tab.ID {
		frameID = f.FrameID
	}
	b.sendToTab(ctx, tab, types.OpenInlineMenuMessage{
		Command:                 types.CmdOpenAutofillInlineMenu,
		IsFocusingFieldElement:  isFocusingFieldElement,
		IsOpeningFullInlineMenu: isOpeningFullInlineMenu,
		AuthStatus:              b.authStatus(ctx),
	}, frameID)
}

// closeInlineMenu closes one or both elements in the tab's top frame. Without
// force the close is skipped while a field is focused, and narrowed to the
// list while a fill is in progress.
func (b *Background) closeInlineMenu(ctx context.Context, tab *types.Tab, element types.OverlayElement, force bool) {
	if tab == nil {
		return
	}
	b.mu.Lock()
	focusedNow, filling := b.isFieldCurrentlyFocused, b.isFieldCurrentlyFilling
	b.mu.Unlock()

	if !force {
		if focusedNow {
			return
		}
		if filling {
			element = types.OverlayElementList
		}
	}
	b.sendToTab(ctx, tab, types.CloseInlineMenuMessage{Command: types.CmdCloseAutofillInlineMenu, OverlayElement: element}, types.TopFrameID)

	b.mu.Lock()
	switch element {
	case types.OverlayElementButton:
		b.isButtonVisible = false
	case types.OverlayElementList:
		b.isListVisible = false
	default:
		b.isButtonVisible = false
		b.isListVisible = false
	}
	b.mu.Unlock()
}

func (b *Background) checkIsInlineMenuCiphersPopulated(sender types.Sender) bool {
	f, ok := b.focused()
	tabID, hasTab := sender.TabID()
	if !ok || !hasTab || tabID != f.TabID {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ciphers.len() > 0
}

func (b *Background) inlineMenuVisibility(ctx context.Context) types.InlineMenuVisibility {
	if b.deps.Settings == nil {
		return types.InlineMenuVisibilityOnFieldFocus
	}
	v, err := b.deps.Settings.InlineMenuVisibility(ctx)
	if err != nil {
		slog.Debug("inline menu visibility lookup failed", "error", err)
		return types.InlineMenuVisibilityOff
	}
	return v
}

// addNewVaultItemFromDraft stages the typed credentials as a new login and
// opens the add/edit popout for it.
func (b *Background) addNewVaultItemFromDraft(ctx context.Context, draft *types.NewLoginDraft, sender types.Sender) {
	tab, err := senderTab(sender)
	if err != nil || draft == nil {
		return
	}
	name := draft.Hostname
	if name == "" {
		if u, err := url.Parse(draft.URI); err == nil {
			name = u.Hostname()
		}
	}
	cipher := types.CipherView{
		ID:   uuid.NewString(),
		Name: name,
		Type: types.CipherTypeLogin,
		Login: &types.LoginView{
			Username: draft.Username,
			Password: draft.Password,
			URIs:     []string{draft.URI},
		},
	}
	if err := b.deps.Ciphers.SetAddEditCipherInfo(ctx, cipher); err != nil {
		slog.Warn("stage new vault item failed", "tab_id", tab.ID, "error", err)
		return
	}
	if b.deps.Popouts != nil {
		if err := b.deps.Popouts.OpenAddEditVaultItem(ctx, tab, cipher.ID); err != nil {
			slog.Warn("open add/edit popout failed", "tab_id", tab.ID, "error", err)
		}
	}
	if err := b.deps.Messenger.SendMessage(ctx, types.CommandMessage{Command: types.CmdInlineMenuRefreshAddEditCipher}); err != nil {
		slog.Debug("refresh add/edit cipher broadcast failed", "error", err)
	}
}

// handleUnlockCompleted refreshes the UI after an unlock and replays a
// queued open request that has not expired.
func (b *Background) handleUnlockCompleted(ctx context.Context, m *types.UnlockCompleted) {
	b.updateInlineMenuButtonAuthStatus(ctx)
	b.updateOverlayCiphers(ctx, true)

	b.mu.Lock()
	queuedAt := b.unlockRetryQueuedAt
	b.unlockRetryQueuedAt = time.Time{}
	b.mu.Unlock()

	retry := m.RetryCommandName() == types.CmdOpenAutofillInlineMenu
	if !queuedAt.IsZero() && time.Since(queuedAt) <= b.opts.UnlockRetryTTL {
		retry = true
	}
	if retry {
		b.openInlineMenu(ctx, true, true)
	}
}

func (b *Background) updateInlineMenuButtonAuthStatus(ctx context.Context) {
	b.postToButton(types.AuthStatusMessage{Command: types.CmdUpdateInlineMenuButtonAuthStatus, AuthStatus: b.authStatus(ctx)})
}

// overlayElementClosed drops the closed element's port. A close reported by
// a tab other than the focused one only flushes expired ports.
func (b *Background) overlayElementClosed(element types.OverlayElement, sender types.Sender) {
	f, ok := b.focused()
	tabID, hasTab := sender.TabID()
	if !ok || !hasTab || tabID != f.TabID {
		for _, p := range b.ports.drainExpired() {
			p.Disconnect()
		}
		return
	}
	var name types.PortName
	switch element {
	case types.OverlayElementButton:
		name = types.PortButton
	case types.OverlayElementList:
		name = types.PortList
	default:
		return
	}
	if port := b.ports.clearSlot(name); port != nil {
		port.Disconnect()
	}
	b.setElementVisible(element, false)
}

func (b *Background) setElementVisible(element types.OverlayElement, visible bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch element {
	case types.OverlayElementButton:
		b.isButtonVisible = visible
	case types.OverlayElementList:
		b.isListVisible = visible
	}
}

// updateSubFrameData resolves a pending offset reported by the in-page
// window message fallback.
func (b *Background) updateSubFrameData(data types.SubFrameOffset, sender types.Sender) {
	tabID, ok := sender.TabID()
	if !ok {
		return
	}
	if !b.build.Graph().UpdateIfTracked(tabID, data.FrameID, &data) {
		slog.Debug("sub-frame data for untracked tab", "tab_id", tabID, "frame_id", data.FrameID)
	}
}

func (b *Background) triggerSubFrameFocusInRebuild(sender types.Sender) {
	b.fadeIn.Cancel()
	b.reposition.Cancel()
	b.scheduleSubFrameRebuild(sender)
}

// scheduleSubFrameRebuild recomputes every tracked offset of the sender's
// tab once frames stop moving, then repositions the menu.
func (b *Background) scheduleSubFrameRebuild(sender types.Sender) {
	tab := sender.Tab
	if tab == nil {
		return
	}
	b.rebuild.Trigger(func() {
		ctx := b.ctx
		b.delayedClose.Cancel()
		graph := b.build.Graph()
		frames := graph.FrameIDs(tab.ID)
		if f, ok := b.focused(); ok && f.TabID == tab.ID && f.FrameID != types.TopFrameID {
			if _, known := graph.Get(tab.ID, f.FrameID); !known {
				frames = append(frames, f.FrameID)
			}
		}
		for _, frameID := range frames {
			b.build.Build(ctx, tab, frameID, b.frameURL(tab.ID, frameID), true)
		}
		b.repositionInlineMenu(ctx, sender)
	})
}

func (b *Background) frameURL(tabID, frameID int) string {
	if d, ok := b.pages.Get(tabID, frameID); ok {
		if d.Details.URL != "" {
			return d.Details.URL
		}
	}
	return ""
}

// checkInlineMenuFocused asks both iframes whether they hold focus.
func (b *Background) checkInlineMenuFocused(sender types.Sender) {
	f, ok := b.focused()
	tabID, hasTab := sender.TabID()
	if !ok || !hasTab || tabID != f.TabID {
		return
	}
	b.postToList(types.CommandMessage{Command: types.CmdCheckAutofillInlineMenuListFocused})
	b.postToButton(types.CommandMessage{Command: types.CmdCheckAutofillInlineMenuButtonFocused})
}

func replyIsTrue(raw []byte) bool {
	return string(bytes.TrimSpace(raw)) == "true"
}
