package pagedetails

import (
	"sort"
	"sync"

	"github.com/dgnsrekt/overlay_agent/internal/types"
)

// Store records, per tab and frame, the most recent scrape a content script
// reported.
type Store struct {
	tabs map[int]map[int]types.PageDetails
	mu   sync.RWMutex
}

func NewStore() *Store {
	return &Store{tabs: make(map[int]map[int]types.PageDetails)}
}

// Put stores details for the tab+frame, replacing any previous entry.
func (s *Store) Put(tabID int, details types.PageDetails) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frames, ok := s.tabs[tabID]
	if !ok {
		frames = make(map[int]types.PageDetails)
		s.tabs[tabID] = frames
	}
	frames[details.FrameID] = details
}

func (s *Store) Get(tabID, frameID int) (types.PageDetails, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.tabs[tabID][frameID]
	return d, ok
}

// ForTab returns every frame's details for the tab ordered by frame id.
func (s *Store) ForTab(tabID int) []types.PageDetails {
	s.mu.RLock()
	defer s.mu.RUnlock()
	frames := s.tabs[tabID]
	out := make([]types.PageDetails, 0, len(frames))
	for _, d := range frames {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FrameID < out[j].FrameID })
	return out
}

// RemoveTab drops every frame recorded for the tab.
func (s *Store) RemoveTab(tabID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tabs, tabID)
}

// RemoveFrame drops one frame's entry, and the tab entry when it empties.
func (s *Store) RemoveFrame(tabID, frameID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frames, ok := s.tabs[tabID]
	if !ok {
		return
	}
	delete(frames, frameID)
	if len(frames) == 0 {
		delete(s.tabs, tabID)
	}
}

func (s *Store) HasTab(tabID int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tabs[tabID]
	return ok
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tabs)
}
