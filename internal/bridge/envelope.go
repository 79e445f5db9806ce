package bridge

import (
	"encoding/json"

	"github.com/dgnsrekt/overlay_agent/internal/types"
)

// Envelope types exchanged with the extension shim.
const (
	TypeMessage             = "message"
	TypeResponse            = "response"
	TypePortConnect         = "portConnect"
	TypePortMessage         = "portMessage"
	TypePortDisconnect      = "portDisconnect"
	TypeNavigationCommitted = "navigationCommitted"
	TypeTabRemoved          = "tabRemoved"
	TypeTabActivated        = "tabActivated"
	TypeReply               = "reply"

	TypeTabSendMessage  = "tabSendMessage"
	TypeSendMessage     = "sendMessage"
	TypeGetFrame        = "getFrame"
	TypeCurrentTab      = "currentTab"
	TypeGetTab          = "getTab"
	TypePortPostMessage = "portPostMessage"
)

// Envelope is one websocket frame. Fields are populated per Type.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	PortID  string          `json:"portId,omitempty"`
	Name    string          `json:"name,omitempty"`
	TabID   *int            `json:"tabId,omitempty"`
	FrameID *int            `json:"frameId,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
	Sender  *types.Sender   `json:"sender,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func intPtr(v int) *int { return &v }

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func (e Envelope) sender() types.Sender {
	if e.Sender == nil {
		return types.Sender{}
	}
	return *e.Sender
}
