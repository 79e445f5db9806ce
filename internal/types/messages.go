package types

import (
	"encoding/json"
	"fmt"
)

// Command is the discriminator carried by every overlay message.
type Command string

// Inbound one-shot extension commands.
const (
	CmdCollectPageDetailsResponse                     Command = "collectPageDetailsResponse"
	CmdUpdateFocusedFieldData                         Command = "updateFocusedFieldData"
	CmdUpdateIsFieldCurrentlyFocused                  Command = "updateIsFieldCurrentlyFocused"
	CmdUpdateIsFieldCurrentlyFilling                  Command = "updateIsFieldCurrentlyFilling"
	CmdTriggerAutofillOverlayReposition               Command = "triggerAutofillOverlayReposition"
	CmdOpenAutofillInlineMenu                         Command = "openAutofillInlineMenu"
	CmdCloseAutofillInlineMenu                        Command = "closeAutofillInlineMenu"
	CmdCheckIsInlineMenuCiphersPopulated              Command = "checkIsInlineMenuCiphersPopulated"
	CmdCheckIsFieldCurrentlyFocused                   Command = "checkIsFieldCurrentlyFocused"
	CmdCheckIsFieldCurrentlyFilling                   Command = "checkIsFieldCurrentlyFilling"
	CmdGetAutofillInlineMenuVisibility                Command = "getAutofillInlineMenuVisibility"
	CmdGetAutofillInlineMenuPosition                  Command = "getAutofillInlineMenuPosition"
	CmdGetCurrentTabFrameID                           Command = "getCurrentTabFrameId"
	CmdUpdateAutofillInlineMenuPosition               Command = "updateAutofillInlineMenuPosition"
	CmdAutofillOverlayAddNewVaultItem                 Command = "autofillOverlayAddNewVaultItem"
	CmdUnlockCompleted                                Command = "unlockCompleted"
	CmdAddedCipher                                    Command = "addedCipher"
	CmdEditedCipher                                   Command = "editedCipher"
	CmdDeletedCipher                                  Command = "deletedCipher"
	CmdAddEditCipherSubmitted                         Command = "addEditCipherSubmitted"
	CmdDoFullSync                                     Command = "doFullSync"
	CmdDestroyAutofillInlineMenuListeners             Command = "destroyAutofillInlineMenuListeners"
	CmdAutofillOverlayElementClosed                   Command = "autofillOverlayElementClosed"
	CmdUpdateSubFrameData                             Command = "updateSubFrameData"
	CmdTriggerSubFrameFocusInRebuild                  Command = "triggerSubFrameFocusInRebuild"
	CmdUpdateAutofillInlineMenuElementIsVisibleStatus Command = "updateAutofillInlineMenuElementIsVisibleStatus"
	CmdCheckIsAutofillInlineMenuButtonVisible         Command = "checkIsAutofillInlineMenuButtonVisible"
	CmdCheckIsAutofillInlineMenuListVisible           Command = "checkIsAutofillInlineMenuListVisible"
	CmdCheckAutofillInlineMenuFocused                 Command = "checkAutofillInlineMenuFocused"
	CmdFocusAutofillInlineMenuList                    Command = "focusAutofillInlineMenuList"
)

// Port commands. Some names are shared between the button and list
// namespaces; the port's role decides which handler runs.
const (
	CmdAutofillInlineMenuButtonClicked         Command = "autofillInlineMenuButtonClicked"
	CmdTriggerDelayedAutofillInlineMenuClosure Command = "triggerDelayedAutofillInlineMenuClosure"
	CmdAutofillInlineMenuBlurred               Command = "autofillInlineMenuBlurred"
	CmdRedirectAutofillInlineMenuFocusOut      Command = "redirectAutofillInlineMenuFocusOut"
	CmdUpdateAutofillInlineMenuColorScheme     Command = "updateAutofillInlineMenuColorScheme"
	CmdCheckAutofillInlineMenuButtonFocused    Command = "checkAutofillInlineMenuButtonFocused"
	CmdCheckAutofillInlineMenuListFocused      Command = "checkAutofillInlineMenuListFocused"
	CmdUnlockVault                             Command = "unlockVault"
	CmdFillAutofillInlineMenuCipher            Command = "fillAutofillInlineMenuCipher"
	CmdAddNewVaultItem                         Command = "addNewVaultItem"
	CmdViewSelectedCipher                      Command = "viewSelectedCipher"
	CmdUpdateAutofillInlineMenuListHeight      Command = "updateAutofillInlineMenuListHeight"
)

// Outbound commands sent to content scripts, iframe ports and extension pages.
const (
	CmdAppendAutofillInlineMenuToDom        Command = "appendAutofillInlineMenuToDom"
	CmdUnsetMostRecentlyFocusedField        Command = "unsetMostRecentlyFocusedField"
	CmdCheckMostRecentlyFocusedFieldInView  Command = "checkIsMostRecentlyFocusedFieldWithinViewport"
	CmdGetSubFrameOffsets                   Command = "getSubFrameOffsets"
	CmdGetSubFrameOffsetsFromWindowMessage  Command = "getSubFrameOffsetsFromWindowMessage"
	CmdSetupRebuildSubFrameOffsetsListeners Command = "setupRebuildSubFrameOffsetsListeners"
	CmdToggleAutofillInlineMenuHidden       Command = "toggleAutofillInlineMenuHidden"
	CmdFadeInAutofillInlineMenuIframe       Command = "fadeInAutofillInlineMenuIframe"
	CmdUpdateAutofillInlineMenuListCiphers  Command = "updateAutofillInlineMenuListCiphers"
	CmdUpdateInlineMenuButtonAuthStatus     Command = "updateInlineMenuButtonAuthStatus"
	CmdInitAutofillInlineMenuButton         Command = "initAutofillInlineMenuButton"
	CmdInitAutofillInlineMenuList           Command = "initAutofillInlineMenuList"
	CmdFocusInlineMenuList                  Command = "focusInlineMenuList"
	CmdAddNewVaultItemFromOverlay           Command = "addNewVaultItemFromOverlay"
	CmdInlineMenuRefreshAddEditCipher       Command = "inlineAutofillMenuRefreshAddEditCipher"
	CmdOpenPopout                           Command = "openPopout"
	CmdFillForm                             Command = "fillForm"
	CmdInlineMenuCiphersPopulated           Command = "inlineMenuCiphersPopulated"
)

// ExtensionMessage is one decoded inbound one-shot message.
type ExtensionMessage interface {
	ExtensionCommand() Command
}

// PortMessage is one decoded inbound port message.
type PortMessage interface {
	PortCommand() Command
	Key() string
}

// PortEnvelope carries the fields every port message has.
type PortEnvelope struct {
	Command Command `json:"command"`
	PortKey string  `json:"portKey"`
}

func (e PortEnvelope) PortCommand() Command { return e.Command }
func (e PortEnvelope) Key() string          { return e.PortKey }

// --- inbound extension messages ---

type CollectPageDetailsResponse struct {
	Details AutofillPageDetails `json:"details"`
}

type UpdateFocusedFieldData struct {
	FocusedFieldData FocusedFieldData `json:"focusedFieldData"`
}

type UpdateIsFieldCurrentlyFocused struct {
	IsFieldCurrentlyFocused bool `json:"isFieldCurrentlyFocused"`
}

type UpdateIsFieldCurrentlyFilling struct {
	IsFieldCurrentlyFilling bool `json:"isFieldCurrentlyFilling"`
}

type TriggerAutofillOverlayReposition struct{}

type OpenAutofillInlineMenu struct {
	IsFocusingFieldElement  bool `json:"isFocusingFieldElement,omitempty"`
	IsOpeningFullInlineMenu bool `json:"isOpeningFullInlineMenu,omitempty"`
}

type CloseAutofillInlineMenu struct {
	OverlayElement       OverlayElement `json:"overlayElement,omitempty"`
	ForceCloseInlineMenu bool           `json:"forceCloseInlineMenu,omitempty"`
}

type CheckIsInlineMenuCiphersPopulated struct{}
type CheckIsFieldCurrentlyFocused struct{}
type CheckIsFieldCurrentlyFilling struct{}
type GetAutofillInlineMenuVisibility struct{}
type GetAutofillInlineMenuPosition struct{}
type GetCurrentTabFrameID struct{}

type UpdateAutofillInlineMenuPosition struct {
	OverlayElement OverlayElement `json:"overlayElement"`
}

type AutofillOverlayAddNewVaultItem struct {
	Login *NewLoginDraft `json:"login,omitempty"`
}

// RetryCommand is a command queued while the vault was locked.
type RetryCommand struct {
	Message struct {
		Command Command `json:"command"`
	} `json:"message"`
}

type UnlockCompleted struct {
	Data *struct {
		CommandToRetry *RetryCommand `json:"commandToRetry,omitempty"`
	} `json:"data,omitempty"`
}

// RetryCommandName returns the queued command, if any.
func (m UnlockCompleted) RetryCommandName() Command {
	if m.Data == nil || m.Data.CommandToRetry == nil {
		return ""
	}
	return m.Data.CommandToRetry.Message.Command
}

// CipherChanged covers every vault mutation that invalidates the menu.
type CipherChanged struct {
	Command Command `json:"command"`
}

type DestroyAutofillInlineMenuListeners struct {
	SubFrameData struct {
		FrameID int `json:"frameId"`
	} `json:"subFrameData"`
}

type AutofillOverlayElementClosed struct {
	OverlayElement OverlayElement `json:"overlayElement"`
}

type UpdateSubFrameData struct {
	SubFrameData SubFrameOffset `json:"subFrameData"`
}

type TriggerSubFrameFocusInRebuild struct{}

type UpdateAutofillInlineMenuElementIsVisibleStatus struct {
	OverlayElement OverlayElement `json:"overlayElement"`
	IsVisible      bool           `json:"isVisible"`
}

type CheckIsAutofillInlineMenuButtonVisible struct{}
type CheckIsAutofillInlineMenuListVisible struct{}
type CheckAutofillInlineMenuFocused struct{}
type FocusAutofillInlineMenuList struct{}

func (CollectPageDetailsResponse) ExtensionCommand() Command { return CmdCollectPageDetailsResponse }
func (UpdateFocusedFieldData) ExtensionCommand() Command     { return CmdUpdateFocusedFieldData }
func (UpdateIsFieldCurrentlyFocused) ExtensionCommand() Command {
	return CmdUpdateIsFieldCurrentlyFocused
}
func (UpdateIsFieldCurrentlyFilling) ExtensionCommand() Command {
	return CmdUpdateIsFieldCurrentlyFilling
}
func (TriggerAutofillOverlayReposition) ExtensionCommand() Command {
	return CmdTriggerAutofillOverlayReposition
}
func (OpenAutofillInlineMenu) ExtensionCommand() Command  { return CmdOpenAutofillInlineMenu }
func (CloseAutofillInlineMenu) ExtensionCommand() Command { return CmdCloseAutofillInlineMenu }
func (CheckIsInlineMenuCiphersPopulated) ExtensionCommand() Command {
	return CmdCheckIsInlineMenuCiphersPopulated
}
func (CheckIsFieldCurrentlyFocused) ExtensionCommand() Command {
	return CmdCheckIsFieldCurrentlyFocused
}
func (CheckIsFieldCurrentlyFilling) ExtensionCommand() Command {
	return CmdCheckIsFieldCurrentlyFilling
}
func (GetAutofillInlineMenuVisibility) ExtensionCommand() Command {
	return CmdGetAutofillInlineMenuVisibility
}
func (GetAutofillInlineMenuPosition) ExtensionCommand() Command {
	return CmdGetAutofillInlineMenuPosition
}
func (GetCurrentTabFrameID) ExtensionCommand() Command { return CmdGetCurrentTabFrameID }
func (UpdateAutofillInlineMenuPosition) ExtensionCommand() Command {
	return CmdUpdateAutofillInlineMenuPosition
}
func (AutofillOverlayAddNewVaultItem) ExtensionCommand() Command {
	return CmdAutofillOverlayAddNewVaultItem
}
func (UnlockCompleted) ExtensionCommand() Command { return CmdUnlockCompleted }
func (m CipherChanged) ExtensionCommand() Command { return m.Command }
func (DestroyAutofillInlineMenuListeners) ExtensionCommand() Command {
	return CmdDestroyAutofillInlineMenuListeners
}
func (AutofillOverlayElementClosed) ExtensionCommand() Command {
	return CmdAutofillOverlayElementClosed
}
func (UpdateSubFrameData) ExtensionCommand() Command { return CmdUpdateSubFrameData }
func (TriggerSubFrameFocusInRebuild) ExtensionCommand() Command {
	return CmdTriggerSubFrameFocusInRebuild
}
func (UpdateAutofillInlineMenuElementIsVisibleStatus) ExtensionCommand() Command {
	return CmdUpdateAutofillInlineMenuElementIsVisibleStatus
}
func (CheckIsAutofillInlineMenuButtonVisible) ExtensionCommand() Command {
	return CmdCheckIsAutofillInlineMenuButtonVisible
}
func (CheckIsAutofillInlineMenuListVisible) ExtensionCommand() Command {
	return CmdCheckIsAutofillInlineMenuListVisible
}
func (CheckAutofillInlineMenuFocused) ExtensionCommand() Command {
	return CmdCheckAutofillInlineMenuFocused
}
func (FocusAutofillInlineMenuList) ExtensionCommand() Command { return CmdFocusAutofillInlineMenuList }

// --- inbound port messages ---

type AutofillInlineMenuButtonClicked struct{ PortEnvelope }
type TriggerDelayedAutofillInlineMenuClosure struct{ PortEnvelope }
type AutofillInlineMenuBlurred struct{ PortEnvelope }
type UpdateAutofillInlineMenuColorScheme struct{ PortEnvelope }
type CheckAutofillInlineMenuButtonFocused struct{ PortEnvelope }
type UnlockVault struct{ PortEnvelope }

type RedirectAutofillInlineMenuFocusOut struct {
	PortEnvelope
	Direction string `json:"direction"`
}

type FillAutofillInlineMenuCipher struct {
	PortEnvelope
	InlineMenuCipherID string `json:"inlineMenuCipherId"`
}

type AddNewVaultItem struct {
	PortEnvelope
	AddNewCipherType CipherType `json:"addNewCipherType,omitempty"`
}

type ViewSelectedCipher struct {
	PortEnvelope
	InlineMenuCipherID string `json:"inlineMenuCipherId"`
}

type UpdateAutofillInlineMenuListHeight struct {
	PortEnvelope
	Styles Styles `json:"styles"`
}

var extensionDecoders = map[Command]func() ExtensionMessage{
	CmdCollectPageDetailsResponse:       func() ExtensionMessage { return &CollectPageDetailsResponse{} },
	CmdUpdateFocusedFieldData:           func() ExtensionMessage { return &UpdateFocusedFieldData{} },
	CmdUpdateIsFieldCurrentlyFocused:    func() ExtensionMessage { return &UpdateIsFieldCurrentlyFocused{} },
	CmdUpdateIsFieldCurrentlyFilling:    func() ExtensionMessage { return &UpdateIsFieldCurrentlyFilling{} },
	CmdTriggerAutofillOverlayReposition: func() ExtensionMessage { return &TriggerAutofillOverlayReposition{} },
	CmdOpenAutofillInlineMenu:           func() ExtensionMessage { return &OpenAutofillInlineMenu{} },
	CmdCloseAutofillInlineMenu:          func() ExtensionMessage { return &CloseAutofillInlineMenu{} },
	CmdCheckIsInlineMenuCiphersPopulated: func() ExtensionMessage {
		return &CheckIsInlineMenuCiphersPopulated{}
	},
	CmdCheckIsFieldCurrentlyFocused:     func() ExtensionMessage { return &CheckIsFieldCurrentlyFocused{} },
	CmdCheckIsFieldCurrentlyFilling:     func() ExtensionMessage { return &CheckIsFieldCurrentlyFilling{} },
	CmdGetAutofillInlineMenuVisibility:  func() ExtensionMessage { return &GetAutofillInlineMenuVisibility{} },
	CmdGetAutofillInlineMenuPosition:    func() ExtensionMessage { return &GetAutofillInlineMenuPosition{} },
	CmdGetCurrentTabFrameID:             func() ExtensionMessage { return &GetCurrentTabFrameID{} },
	CmdUpdateAutofillInlineMenuPosition: func() ExtensionMessage { return &UpdateAutofillInlineMenuPosition{} },
	CmdAutofillOverlayAddNewVaultItem:   func() ExtensionMessage { return &AutofillOverlayAddNewVaultItem{} },
	CmdUnlockCompleted:                  func() ExtensionMessage { return &UnlockCompleted{} },
	CmdAddedCipher:                      func() ExtensionMessage { return &CipherChanged{} },
	CmdEditedCipher:                     func() ExtensionMessage { return &CipherChanged{} },
	CmdDeletedCipher:                    func() ExtensionMessage { return &CipherChanged{} },
	CmdAddEditCipherSubmitted:           func() ExtensionMessage { return &CipherChanged{} },
	CmdDoFullSync:                       func() ExtensionMessage { return &CipherChanged{} },
	CmdDestroyAutofillInlineMenuListeners: func() ExtensionMessage {
		return &DestroyAutofillInlineMenuListeners{}
	},
	CmdAutofillOverlayElementClosed: func() ExtensionMessage { return &AutofillOverlayElementClosed{} },
	CmdUpdateSubFrameData:           func() ExtensionMessage { return &UpdateSubFrameData{} },
	CmdTriggerSubFrameFocusInRebuild: func() ExtensionMessage {
		return &TriggerSubFrameFocusInRebuild{}
	},
	CmdUpdateAutofillInlineMenuElementIsVisibleStatus: func() ExtensionMessage {
		return &UpdateAutofillInlineMenuElementIsVisibleStatus{}
	},
	CmdCheckIsAutofillInlineMenuButtonVisible: func() ExtensionMessage {
		return &CheckIsAutofillInlineMenuButtonVisible{}
	},
	CmdCheckIsAutofillInlineMenuListVisible: func() ExtensionMessage {
		return &CheckIsAutofillInlineMenuListVisible{}
	},
	CmdCheckAutofillInlineMenuFocused: func() ExtensionMessage { return &CheckAutofillInlineMenuFocused{} },
	CmdFocusAutofillInlineMenuList:    func() ExtensionMessage { return &FocusAutofillInlineMenuList{} },
}

var portDecoders = map[Command]func() PortMessage{
	CmdAutofillInlineMenuButtonClicked:         func() PortMessage { return &AutofillInlineMenuButtonClicked{} },
	CmdTriggerDelayedAutofillInlineMenuClosure: func() PortMessage { return &TriggerDelayedAutofillInlineMenuClosure{} },
	CmdAutofillInlineMenuBlurred:               func() PortMessage { return &AutofillInlineMenuBlurred{} },
	CmdRedirectAutofillInlineMenuFocusOut:      func() PortMessage { return &RedirectAutofillInlineMenuFocusOut{} },
	CmdUpdateAutofillInlineMenuColorScheme:     func() PortMessage { return &UpdateAutofillInlineMenuColorScheme{} },
	CmdCheckAutofillInlineMenuButtonFocused:    func() PortMessage { return &CheckAutofillInlineMenuButtonFocused{} },
	CmdUnlockVault:                             func() PortMessage { return &UnlockVault{} },
	CmdFillAutofillInlineMenuCipher:            func() PortMessage { return &FillAutofillInlineMenuCipher{} },
	CmdAddNewVaultItem:                         func() PortMessage { return &AddNewVaultItem{} },
	CmdViewSelectedCipher:                      func() PortMessage { return &ViewSelectedCipher{} },
	CmdUpdateAutofillInlineMenuListHeight:      func() PortMessage { return &UpdateAutofillInlineMenuListHeight{} },
}

func peekCommand(data []byte) (Command, error) {
	var head struct {
		Command Command `json:"command"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", NewError(CodeValidation, "malformed message", err)
	}
	if head.Command == "" {
		return "", NewError(CodeValidation, "message has no command", nil)
	}
	return head.Command, nil
}

// DecodeExtensionMessage decodes a one-shot message into its typed variant.
// Unknown commands return a CodeNotFound error so callers can ignore them.
func DecodeExtensionMessage(data []byte) (ExtensionMessage, error) {
	cmd, err := peekCommand(data)
	if err != nil {
		return nil, err
	}
	newMsg, ok := extensionDecoders[cmd]
	if !ok {
		return nil, NewError(CodeNotFound, fmt.Sprintf("unknown command %q", cmd), nil)
	}
	msg := newMsg()
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, NewError(CodeValidation, fmt.Sprintf("decode %s", cmd), err)
	}
	if cc, ok := msg.(*CipherChanged); ok {
		cc.Command = cmd
	}
	return msg, nil
}

// DecodePortMessage decodes a port message into its typed variant.
func DecodePortMessage(data []byte) (PortMessage, error) {
	cmd, err := peekCommand(data)
	if err != nil {
		return nil, err
	}
	newMsg, ok := portDecoders[cmd]
	if !ok {
		return nil, NewError(CodeNotFound, fmt.Sprintf("unknown port command %q", cmd), nil)
	}
	msg := newMsg()
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, NewError(CodeValidation, fmt.Sprintf("decode %s", cmd), err)
	}
	return msg, nil
}
