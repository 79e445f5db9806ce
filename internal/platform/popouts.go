package platform

import (
	"context"

	"github.com/dgnsrekt/overlay_agent/internal/types"
)

const (
	PopoutUnlock  = "unlock"
	PopoutAddEdit = "addEditVaultItem"
	PopoutView    = "viewVaultItem"
)

// Broadcaster sends a runtime message to the extension's own pages.
type Broadcaster interface {
	SendMessage(ctx context.Context, msg any) error
}

// Popouts asks the extension to open its popout windows.
type Popouts struct {
	b Broadcaster
}

func NewPopouts(b Broadcaster) *Popouts { return &Popouts{b: b} }

func (p *Popouts) open(ctx context.Context, popout string, tab *types.Tab, cipherID, action string) error {
	msg := types.PopoutMessage{Command: types.CmdOpenPopout, Popout: popout, CipherID: cipherID, Action: action}
	if tab != nil {
		msg.TabID = tab.ID
	}
	return p.b.SendMessage(ctx, msg)
}

func (p *Popouts) OpenUnlock(ctx context.Context, tab *types.Tab) error {
	return p.open(ctx, PopoutUnlock, tab, "", "")
}

func (p *Popouts) OpenAddEditVaultItem(ctx context.Context, tab *types.Tab, cipherID string) error {
	action := "edit"
	if cipherID == "" {
		action = "add"
	}
	return p.open(ctx, PopoutAddEdit, tab, cipherID, action)
}

func (p *Popouts) OpenViewVaultItem(ctx context.Context, tab *types.Tab, cipherID string) error {
	return p.open(ctx, PopoutView, tab, cipherID, "view")
}
