package pagedetails

import (
	"testing"

	"github.com/dgnsrekt/overlay_agent/internal/types"
)

func details(frameID int, url string) types.PageDetails {
	return types.PageDetails{
		FrameID: frameID,
		Tab:     &types.Tab{ID: 1, URL: "https://example.com"},
		Details: types.AutofillPageDetails{URL: url},
	}
}

func TestStorePutAndForTab(t *testing.T) {
	s := NewStore()
	s.Put(1, details(20, "https://example.com/frame"))
	s.Put(1, details(0, "https://example.com"))
	s.Put(2, details(0, "https://other.test"))

	got := s.ForTab(1)
	if len(got) != 2 {
		t.Fatalf("ForTab(1) len = %d; want 2", len(got))
	}
	if got[0].FrameID != 0 || got[1].FrameID != 20 {
		t.Fatalf("ForTab(1) frame order = [%d %d]; want [0 20]", got[0].FrameID, got[1].FrameID)
	}
	if s.Count() != 2 {
		t.Fatalf("Count() = %d; want 2", s.Count())
	}
}

func TestStorePutReplacesFrameEntry(t *testing.T) {
	s := NewStore()
	s.Put(1, details(0, "https://example.com/a"))
	s.Put(1, details(0, "https://example.com/b"))

	d, ok := s.Get(1, 0)
	if !ok {
		t.Fatalf("Get(1, 0) ok = false; want true")
	}
	if d.Details.URL != "https://example.com/b" {
		t.Fatalf("Get(1, 0) url = %q; want %q", d.Details.URL, "https://example.com/b")
	}
}

func TestStoreRemoveTab(t *testing.T) {
	s := NewStore()
	s.Put(1, details(0, "https://example.com"))
	s.Put(1, details(5, "https://example.com/frame"))
	s.RemoveTab(1)

	if s.HasTab(1) {
		t.Fatalf("HasTab(1) = true after RemoveTab; want false")
	}
	if got := s.ForTab(1); len(got) != 0 {
		t.Fatalf("ForTab(1) len = %d after RemoveTab; want 0", len(got))
	}
}

func TestStoreRemoveFrameDropsEmptyTab(t *testing.T) {
	s := NewStore()
	s.Put(1, details(5, "https://example.com/frame"))
	s.RemoveFrame(1, 5)
	if s.HasTab(1) {
		t.Fatalf("HasTab(1) = true after removing last frame; want false")
	}
	s.RemoveFrame(3, 0)
}
