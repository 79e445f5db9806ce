package types

// CommandMessage is an outbound message with no payload.
type CommandMessage struct {
	Command Command `json:"command"`
}

type OpenInlineMenuMessage struct {
	Command                 Command    `json:"command"`
	IsFocusingFieldElement  bool       `json:"isFocusingFieldElement"`
	IsOpeningFullInlineMenu bool       `json:"isOpeningFullInlineMenu"`
	AuthStatus              AuthStatus `json:"authStatus"`
}

type CloseInlineMenuMessage struct {
	Command        Command        `json:"command"`
	OverlayElement OverlayElement `json:"overlayElement,omitempty"`
}

type OverlayElementMessage struct {
	Command        Command        `json:"command"`
	OverlayElement OverlayElement `json:"overlayElement"`
}

type GetSubFrameOffsetsMessage struct {
	Command     Command `json:"command"`
	SubFrameURL string  `json:"subFrameUrl"`
	SubFrameID  string  `json:"subFrameId,omitempty"`
}

type SubFrameIDMessage struct {
	Command    Command `json:"command"`
	SubFrameID int     `json:"subFrameId"`
}

type StylesMessage struct {
	Command Command `json:"command"`
	Styles  Styles  `json:"styles"`
}

type ListCiphersMessage struct {
	Command Command                `json:"command"`
	Ciphers []InlineMenuCipherData `json:"ciphers"`
}

type AuthStatusMessage struct {
	Command    Command    `json:"command"`
	AuthStatus AuthStatus `json:"authStatus"`
}

type RedirectFocusOutMessage struct {
	Command Command `json:"command"`
	Data    struct {
		Direction string `json:"direction"`
	} `json:"data"`
}

type AddNewVaultItemFromOverlayMessage struct {
	Command          Command    `json:"command"`
	AddNewCipherType CipherType `json:"addNewCipherType,omitempty"`
}

// InitInlineMenuMessage is the handshake posted to a freshly connected UI
// port. PortName names the message connector the iframe must open next.
type InitInlineMenuMessage struct {
	Command      Command                `json:"command"`
	AuthStatus   AuthStatus             `json:"authStatus"`
	PortKey      string                 `json:"portKey"`
	PortName     PortName               `json:"portName"`
	Theme        string                 `json:"theme,omitempty"`
	Translations map[string]string      `json:"translations,omitempty"`
	Ciphers      []InlineMenuCipherData `json:"ciphers,omitempty"`
}

// PopoutMessage asks the extension to open one of its popout windows.
type PopoutMessage struct {
	Command  Command `json:"command"`
	Popout   string  `json:"popout"`
	TabID    int     `json:"tabId"`
	CipherID string  `json:"cipherId,omitempty"`
	Action   string  `json:"action,omitempty"`
}

// CiphersPopulatedMessage tells the focused frame whether the list has
// anything to show after a cipher refresh.
type CiphersPopulatedMessage struct {
	Command          Command `json:"command"`
	CiphersPopulated bool    `json:"ciphersPopulated"`
}

// FillScript is the ordered list of actions a content script replays to
// fill a form. Each action is an op name followed by its arguments, e.g.
// ["fill_by_opid", "__3", "alice"].
type FillScript struct {
	Script    [][]string `json:"script"`
	SavedURLs []string   `json:"savedUrls,omitempty"`
	ItemType  string     `json:"itemType,omitempty"`
}

type FillFormMessage struct {
	Command    Command    `json:"command"`
	FillScript FillScript `json:"fillScript"`
	PageURL    string     `json:"pageUrl,omitempty"`
}
