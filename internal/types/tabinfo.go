package types

// TopFrameID is the frame id of a tab's top-level document. Every offset in
// the overlay is expressed relative to it.
const TopFrameID = 0

// Tab holds the browser tab metadata that accompanies a message sender.
type Tab struct {
	ID       int    `json:"id"`
	WindowID int    `json:"windowId,omitempty"`
	URL      string `json:"url,omitempty"`
	Title    string `json:"title,omitempty"`
	Active   bool   `json:"active,omitempty"`
}

// Sender identifies where an inbound message or port originated.
type Sender struct {
	Tab     *Tab   `json:"tab,omitempty"`
	FrameID int    `json:"frameId"`
	URL     string `json:"url,omitempty"`
}

// TabID returns the sender's tab id and whether the sender carried a tab.
func (s Sender) TabID() (int, bool) {
	if s.Tab == nil {
		return 0, false
	}
	return s.Tab.ID, true
}

// FrameDetails is what the frame hierarchy provider reports for one frame.
// ParentFrameID is -1 for a top-level frame.
type FrameDetails struct {
	FrameID       int    `json:"frameId"`
	ParentFrameID int    `json:"parentFrameId"`
	URL           string `json:"url,omitempty"`
	DocumentID    string `json:"documentId,omitempty"`
}
