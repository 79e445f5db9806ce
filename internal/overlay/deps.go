package overlay

import (
	"context"
	"encoding/json"

	"github.com/dgnsrekt/overlay_agent/internal/subframe"
	"github.com/dgnsrekt/overlay_agent/internal/types"
)

// Messenger is the host messaging surface the coordinator talks through.
// TabSendMessage returns the frame's raw reply; nil means no reply.
type Messenger interface {
	TabSendMessage(ctx context.Context, tab *types.Tab, msg any, frameID int) (json.RawMessage, error)
	SendMessage(ctx context.Context, msg any) error
	CurrentTab(ctx context.Context) (*types.Tab, error)
	GetTab(ctx context.Context, tabID int) (*types.Tab, error)
}

// Port is a long-lived connection to an iframe UI or its message connector.
// Disconnect must not trigger the coordinator's own disconnect handler.
type Port interface {
	ID() string
	Name() types.PortName
	Sender() types.Sender
	PostMessage(msg any)
	Disconnect()
}

type AuthService interface {
	Status(ctx context.Context) (types.AuthStatus, error)
}

// CipherService returns decrypted ciphers matching a URL. includeTypes adds
// every cipher of the given non-login types to the login matches.
type CipherService interface {
	AllDecryptedForURL(ctx context.Context, url string, includeTypes []types.CipherType) ([]types.CipherView, error)
	SetAddEditCipherInfo(ctx context.Context, cipher types.CipherView) error
}

// FillRequest is what the autofill collaborator needs to fill one cipher.
type FillRequest struct {
	Tab               *types.Tab
	Cipher            types.CipherView
	PageDetails       []types.PageDetails
	FillNewPassword   bool
	AllowTOTPAutofill bool
}

// AutofillService fills a cipher into a tab. DoAutoFill returns the TOTP
// code produced while filling, if any.
type AutofillService interface {
	IsPasswordRepromptRequired(ctx context.Context, cipher types.CipherView, tab *types.Tab) (bool, error)
	DoAutoFill(ctx context.Context, req FillRequest) (string, error)
}

type SettingsService interface {
	InlineMenuVisibility(ctx context.Context) (types.InlineMenuVisibility, error)
	ShowFavicons(ctx context.Context) (bool, error)
	Theme(ctx context.Context) (string, error)
}

type PopoutService interface {
	OpenUnlock(ctx context.Context, tab *types.Tab) error
	OpenAddEditVaultItem(ctx context.Context, tab *types.Tab, cipherID string) error
	OpenViewVaultItem(ctx context.Context, tab *types.Tab, cipherID string) error
}

type Clipboard interface {
	Copy(text string) error
}

// TrafficEvent describes one outbound message without its payload.
type TrafficEvent struct {
	Target  string        `json:"target"`
	Command types.Command `json:"command"`
	TabID   int           `json:"tab_id,omitempty"`
	FrameID int           `json:"frame_id,omitempty"`
	Count   int           `json:"count,omitempty"`
}

// EventSink observes outbound traffic, e.g. for a debug feed.
type EventSink interface {
	Publish(evt TrafficEvent)
}

// Auditor records security relevant outcomes. Implementations must not
// receive secrets.
type Auditor interface {
	Record(event string, tabID, frameID int, cipherID string)
}

// Deps bundles the collaborators. Messenger, Auth and Ciphers are required;
// the rest degrade to no-ops when nil.
type Deps struct {
	Messenger Messenger
	Frames    subframe.FrameTree
	Auth      AuthService
	Ciphers   CipherService
	Autofill  AutofillService
	Settings  SettingsService
	Popouts   PopoutService
	Clipboard Clipboard
	Events    EventSink
	Audit     Auditor
}
