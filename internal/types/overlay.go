package types

// OverlayElement names one of the two iframe UI elements the content script
// injects into the top frame.
type OverlayElement string

const (
	OverlayElementButton OverlayElement = "autofill-inline-menu-button"
	OverlayElementList   OverlayElement = "autofill-inline-menu-list"
)

// PortName is the connect name a port announces. Only the four names below
// are accepted by the coordinator.
type PortName string

const (
	PortButton                 PortName = "autofill-inline-menu-button-port"
	PortList                   PortName = "autofill-inline-menu-list-port"
	PortButtonMessageConnector PortName = "autofill-inline-menu-button-message-connector"
	PortListMessageConnector   PortName = "autofill-inline-menu-list-message-connector"
)

// Element reports which UI element a port name belongs to.
func (n PortName) Element() (OverlayElement, bool) {
	switch n {
	case PortButton, PortButtonMessageConnector:
		return OverlayElementButton, true
	case PortList, PortListMessageConnector:
		return OverlayElementList, true
	}
	return "", false
}

// IsConnector reports whether the port relays DOM-origin postMessage traffic
// on behalf of a UI iframe.
func (n PortName) IsConnector() bool {
	return n == PortButtonMessageConnector || n == PortListMessageConnector
}

// InlineMenuVisibility is the user's preference for when the inline menu
// button appears.
type InlineMenuVisibility int

const (
	InlineMenuVisibilityOff           InlineMenuVisibility = 0
	InlineMenuVisibilityOnButtonClick InlineMenuVisibility = 1
	InlineMenuVisibilityOnFieldFocus  InlineMenuVisibility = 2
)

// FocusedFieldStyles carries the computed paddings of the focused field as
// CSS strings, e.g. "12px".
type FocusedFieldStyles struct {
	PaddingLeft  string `json:"paddingLeft"`
	PaddingRight string `json:"paddingRight"`
}

// FocusedFieldRects is the focused field's bounding box in its own frame.
type FocusedFieldRects struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// FocusedFieldData describes the last field the user interacted with across
// every tab.
type FocusedFieldData struct {
	TabID              int                `json:"tabId"`
	FrameID            int                `json:"frameId"`
	FocusedFieldStyles FocusedFieldStyles `json:"focusedFieldStyles"`
	FocusedFieldRects  FocusedFieldRects  `json:"focusedFieldRects"`
}

// SubFrameOffset is the accumulated offset of a sub-frame relative to the
// top frame. ParentFrameIDs lists ancestors from the top frame down to the
// immediate parent.
type SubFrameOffset struct {
	FrameID        int     `json:"frameId,omitempty"`
	Left           float64 `json:"left"`
	Top            float64 `json:"top"`
	URL            string  `json:"url"`
	ParentFrameIDs []int   `json:"parentFrameIds"`
}

// HasAncestor reports whether frameID is recorded as one of the offset's
// ancestors.
func (o *SubFrameOffset) HasAncestor(frameID int) bool {
	if o == nil {
		return false
	}
	for _, id := range o.ParentFrameIDs {
		if id == frameID {
			return true
		}
	}
	return false
}

// Styles is a set of inline CSS declarations pushed to an iframe element.
type Styles map[string]string

// InlineMenuPosition holds the last styles computed for each element.
type InlineMenuPosition struct {
	Button Styles `json:"button,omitempty"`
	List   Styles `json:"list,omitempty"`
}

// AutofillField is the subset of a scraped field the overlay and the fill
// collaborator look at.
type AutofillField struct {
	OpID             string `json:"opid"`
	ElementNumber    int    `json:"elementNumber"`
	Form             string `json:"form,omitempty"`
	Type             string `json:"type,omitempty"`
	HTMLID           string `json:"htmlID,omitempty"`
	HTMLName         string `json:"htmlName,omitempty"`
	Placeholder      string `json:"placeholder,omitempty"`
	AutoCompleteType string `json:"autoCompleteType,omitempty"`
	Viewable         bool   `json:"viewable"`
	Readonly         bool   `json:"readonly,omitempty"`
	Disabled         bool   `json:"disabled,omitempty"`
}

// AutofillForm is a scraped form element.
type AutofillForm struct {
	OpID       string `json:"opid"`
	HTMLAction string `json:"htmlAction,omitempty"`
	HTMLName   string `json:"htmlName,omitempty"`
	HTMLID     string `json:"htmlID,omitempty"`
}

// AutofillPageDetails is the scrape result a frame's content script reports.
type AutofillPageDetails struct {
	Title              string                  `json:"title,omitempty"`
	URL                string                  `json:"url"`
	DocumentURL        string                  `json:"documentUrl,omitempty"`
	Forms              map[string]AutofillForm `json:"forms,omitempty"`
	Fields             []AutofillField         `json:"fields"`
	CollectedTimestamp int64                   `json:"collectedTimestamp,omitempty"`
}

// PageDetails is one frame's entry in the per-tab page detail store.
type PageDetails struct {
	FrameID int                 `json:"frameId"`
	Tab     *Tab                `json:"tab"`
	Details AutofillPageDetails `json:"details"`
}

// NewLoginDraft is what the content script reports when the user asks to
// save the credentials currently typed into a form.
type NewLoginDraft struct {
	URI      string `json:"uri"`
	Hostname string `json:"hostname"`
	Username string `json:"username"`
	Password string `json:"password"`
}
