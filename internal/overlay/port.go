package overlay

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgnsrekt/overlay_agent/internal/types"
)

func (b *Background) handleButtonPortMessage(ctx context.Context, port Port, msg types.PortMessage) {
	sender := port.Sender()
	switch m := msg.(type) {
	case *types.AutofillInlineMenuButtonClicked:
		b.handleInlineMenuButtonClicked(ctx, port)
	case *types.TriggerDelayedAutofillInlineMenuClosure:
		b.triggerDelayedInlineMenuClosure()
	case *types.AutofillInlineMenuBlurred:
		b.postToList(types.CommandMessage{Command: types.CmdCheckAutofillInlineMenuListFocused})
	case *types.RedirectAutofillInlineMenuFocusOut:
		b.redirectInlineMenuFocusOut(ctx, m.Direction, sender)
	case *types.UpdateAutofillInlineMenuColorScheme:
		b.sendToTab(ctx, sender.Tab, types.CommandMessage{Command: types.CmdUpdateAutofillInlineMenuColorScheme}, types.TopFrameID)
	default:
		slog.Debug("unhandled button port message", "command", msg.PortCommand())
	}
}

func (b *Background) handleListPortMessage(ctx context.Context, port Port, msg types.PortMessage) {
	sender := port.Sender()
	switch m := msg.(type) {
	case *types.CheckAutofillInlineMenuButtonFocused:
		b.postToButton(types.CommandMessage{Command: types.CmdCheckAutofillInlineMenuButtonFocused})
	case *types.AutofillInlineMenuBlurred:
		b.postToButton(types.CommandMessage{Command: types.CmdCheckAutofillInlineMenuButtonFocused})
	case *types.UnlockVault:
		b.unlockVault(ctx, sender)
	case *types.FillAutofillInlineMenuCipher:
		b.fillInlineMenuCipher(ctx, m.InlineMenuCipherID, sender)
	case *types.AddNewVaultItem:
		b.addNewVaultItem(ctx, m.AddNewCipherType, sender)
	case *types.ViewSelectedCipher:
		b.viewSelectedCipher(ctx, m.InlineMenuCipherID, sender)
	case *types.RedirectAutofillInlineMenuFocusOut:
		b.redirectInlineMenuFocusOut(ctx, m.Direction, sender)
	case *types.UpdateAutofillInlineMenuListHeight:
		b.postToList(types.StylesMessage{Command: types.CmdUpdateAutofillInlineMenuPosition, Styles: m.Styles})
	default:
		slog.Debug("unhandled list port message", "command", msg.PortCommand())
	}
}

func (b *Background) handleInlineMenuButtonClicked(ctx context.Context, port Port) {
	b.delayedClose.Cancel()
	b.fadeIn.Cancel()
	b.reposition.Cancel()
	if b.authStatus(ctx) != types.AuthStatusUnlocked {
		b.unlockVault(ctx, port.Sender())
		return
	}
	b.openInlineMenu(ctx, false, true)
}

// triggerDelayedInlineMenuClosure tells both iframes to close after a short
// quiet period. Repeated triggers within the period coalesce.
func (b *Background) triggerDelayedInlineMenuClosure() {
	if b.fieldFocused() {
		return
	}
	b.delayedClose.Trigger(func() {
		msg := types.CommandMessage{Command: types.CmdTriggerDelayedAutofillInlineMenuClosure}
		b.postToButton(msg)
		b.postToList(msg)
	})
}

func (b *Background) redirectInlineMenuFocusOut(ctx context.Context, direction string, sender types.Sender) {
	if direction == "" {
		return
	}
	frameID := types.TopFrameID
	if f, ok := b.focused(); ok {
		if tabID, hasTab := sender.TabID(); hasTab && tabID == f.TabID {
			frameID = f.FrameID
		}
	}
	msg := types.RedirectFocusOutMessage{Command: types.CmdRedirectAutofillInlineMenuFocusOut}
	msg.Data.Direction = direction
	b.sendToTab(ctx, sender.Tab, msg, frameID)
}

// unlockVault closes the menu, queues the open request for replay after
// unlock and opens the unlock popout.
func (b *Background) unlockVault(ctx context.Context, sender types.Sender) {
	tab, err := senderTab(sender)
	if err != nil {
		return
	}
	b.closeInlineMenu(ctx, tab, "", false)
	b.mu.Lock()
	b.unlockRetryQueuedAt = time.Now()
	b.mu.Unlock()
	if b.deps.Popouts == nil {
		return
	}
	if err := b.deps.Popouts.OpenUnlock(ctx, tab); err != nil {
		slog.Warn("open unlock popout failed", "tab_id", tab.ID, "error", err)
	}
}

// fillInlineMenuCipher fills the cipher behind handle into the sender's tab,
// then promotes it to the front of the menu and copies any TOTP code.
func (b *Background) fillInlineMenuCipher(ctx context.Context, handle string, sender types.Sender) {
	tab, err := senderTab(sender)
	if err != nil || handle == "" {
		return
	}
	pages := b.pages.ForTab(tab.ID)
	if len(pages) == 0 {
		slog.Debug("fill skipped: no page details", "tab_id", tab.ID)
		return
	}
	b.mu.Lock()
	cipher, ok := b.ciphers.get(handle)
	b.mu.Unlock()
	if !ok || b.deps.Autofill == nil {
		return
	}

	required, err := b.deps.Autofill.IsPasswordRepromptRequired(ctx, cipher, tab)
	if err != nil {
		slog.Warn("reprompt check failed", "tab_id", tab.ID, "error", err)
		return
	}
	if required {
		slog.Debug("fill denied pending reprompt", "tab_id", tab.ID, "cipher_id", cipher.ID)
		b.record("fill_denied_reprompt", tab.ID, sender.FrameID, cipher.ID)
		return
	}

	totp, err := b.deps.Autofill.DoAutoFill(ctx, FillRequest{
		Tab:               tab,
		Cipher:            cipher,
		PageDetails:       pages,
		FillNewPassword:   true,
		AllowTOTPAutofill: true,
	})
	if err != nil {
		slog.Warn("autofill failed", "tab_id", tab.ID, "cipher_id", cipher.ID, "error", err)
		return
	}
	b.record("fill", tab.ID, sender.FrameID, cipher.ID)

	if totp != "" && b.deps.Clipboard != nil {
		if err := b.deps.Clipboard.Copy(totp); err != nil {
			slog.Warn("copy totp to clipboard failed", "error", err)
		}
	}

	b.mu.Lock()
	b.ciphers.promote(handle)
	b.mu.Unlock()
}

func (b *Background) record(event string, tabID, frameID int, cipherID string) {
	if b.deps.Audit != nil {
		b.deps.Audit.Record(event, tabID, frameID, cipherID)
	}
}

func (b *Background) addNewVaultItem(ctx context.Context, cipherType types.CipherType, sender types.Sender) {
	tab, err := senderTab(sender)
	if err != nil {
		return
	}
	frameID := types.TopFrameID
	if f, ok := b.focused(); ok && f.TabID == tab.ID {
		frameID = f.FrameID
	}
	b.sendToTab(ctx, tab, types.AddNewVaultItemFromOverlayMessage{
		Command:          types.CmdAddNewVaultItemFromOverlay,
		AddNewCipherType: cipherType,
	}, frameID)
}

func (b *Background) viewSelectedCipher(ctx context.Context, handle string, sender types.Sender) {
	tab, err := senderTab(sender)
	if err != nil {
		return
	}
	b.mu.Lock()
	cipher, ok := b.ciphers.get(handle)
	b.mu.Unlock()
	if !ok || b.deps.Popouts == nil {
		return
	}
	if err := b.deps.Popouts.OpenViewVaultItem(ctx, tab, cipher.ID); err != nil {
		slog.Warn("open view popout failed", "tab_id", tab.ID, "error", err)
	}
}

// updateOverlayCiphers rebuilds the handle map for the current tab and
// pushes the summaries to the list. Nothing is fetched unless the vault is
// unlocked. With updateAll false, card and identity ciphers come from the
// last full fetch.
func (b *Background) updateOverlayCiphers(ctx context.Context, updateAll bool) {
	f, hasFocus := b.focused()
	if b.authStatus(ctx) != types.AuthStatusUnlocked {
		if hasFocus {
			b.closeInlineMenu(ctx, b.focusedTab(ctx, f.TabID), "", true)
		}
		return
	}

	tab, err := b.deps.Messenger.CurrentTab(ctx)
	if err != nil {
		slog.Debug("update ciphers: no current tab", "error", err)
		tab = nil
	}
	if hasFocus && (tab == nil || tab.ID != f.TabID) {
		b.closeInlineMenu(ctx, b.focusedTab(ctx, f.TabID), "", true)
	}
	if tab == nil || tab.URL == "" {
		return
	}

	views, err := b.cipherViews(ctx, tab.URL, updateAll)
	if err != nil {
		slog.Warn("fetch ciphers failed", "tab_id", tab.ID, "error", err)
		return
	}

	b.mu.Lock()
	b.ciphers.rebuild(views)
	b.mu.Unlock()

	data := b.cipherData(ctx)
	b.postToList(types.ListCiphersMessage{Command: types.CmdUpdateAutofillInlineMenuListCiphers, Ciphers: data})
	if hasFocus && f.TabID == tab.ID {
		b.sendToTab(ctx, tab, types.CiphersPopulatedMessage{
			Command:          types.CmdInlineMenuCiphersPopulated,
			CiphersPopulated: len(data) > 0,
		}, f.FrameID)
	}
	slog.Debug("inline menu ciphers updated", "tab_id", tab.ID, "count", len(data), "full", updateAll)
}

func (b *Background) cipherViews(ctx context.Context, tabURL string, updateAll bool) ([]types.CipherView, error) {
	b.mu.Lock()
	fetched := b.cardAndIdentityFetched
	cached := append([]types.CipherView(nil), b.cardAndIdentity...)
	b.mu.Unlock()

	if updateAll || !fetched {
		all, err := b.deps.Ciphers.AllDecryptedForURL(ctx, tabURL, []types.CipherType{types.CipherTypeCard, types.CipherTypeIdentity})
		if err != nil {
			return nil, err
		}
		sortCiphers(all)
		var others []types.CipherView
		for _, c := range all {
			if isCardOrIdentity(c) {
				others = append(others, c)
			}
		}
		b.mu.Lock()
		b.cardAndIdentity = others
		b.cardAndIdentityFetched = true
		b.mu.Unlock()
		return all, nil
	}

	logins, err := b.deps.Ciphers.AllDecryptedForURL(ctx, tabURL, nil)
	if err != nil {
		return nil, err
	}
	sortCiphers(logins)
	return append(logins, cached...), nil
}

func (b *Background) cipherData(ctx context.Context) []types.InlineMenuCipherData {
	showFavicons := false
	if b.deps.Settings != nil {
		if v, err := b.deps.Settings.ShowFavicons(ctx); err == nil {
			showFavicons = v
		}
	}
	b.mu.Lock()
	entries := b.ciphers.snapshot()
	b.mu.Unlock()
	return inlineMenuCipherData(entries, showFavicons, b.opts.IconsServerURL)
}
