package subframe

import (
	"sort"
	"sync"

	"github.com/dgnsrekt/overlay_agent/internal/types"
)

// Graph maps tab id -> frame id -> accumulated offset. A nil offset marks a
// frame whose offset was requested but has not resolved yet.
type Graph struct {
	mu   sync.RWMutex
	tabs map[int]map[int]*types.SubFrameOffset
}

func NewGraph() *Graph {
	return &Graph{tabs: make(map[int]map[int]*types.SubFrameOffset)}
}

// Get returns the frame's offset and whether any entry, including a pending
// placeholder, exists.
func (g *Graph) Get(tabID, frameID int) (*types.SubFrameOffset, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	frames, ok := g.tabs[tabID]
	if !ok {
		return nil, false
	}
	off, ok := frames[frameID]
	if off != nil {
		off = clone(off)
	}
	return off, ok
}

// Reserve stores a pending placeholder unless an entry already exists. It
// returns false when the frame is already known.
func (g *Graph) Reserve(tabID, frameID int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	frames := g.framesLocked(tabID)
	if _, ok := frames[frameID]; ok {
		return false
	}
	frames[frameID] = nil
	return true
}

// Set stores an offset (nil for pending) unconditionally.
func (g *Graph) Set(tabID, frameID int, off *types.SubFrameOffset) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if off != nil {
		off = clone(off)
	}
	g.framesLocked(tabID)[frameID] = off
}

// Resolve stores an offset only if the frame still has an entry. Results of
// computations that were invalidated by navigation are dropped.
func (g *Graph) Resolve(tabID, frameID int, off *types.SubFrameOffset) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	frames, ok := g.tabs[tabID]
	if !ok {
		return false
	}
	if _, ok := frames[frameID]; !ok {
		return false
	}
	frames[frameID] = clone(off)
	return true
}

// UpdateIfTracked replaces a frame entry when the tab is tracked at all.
func (g *Graph) UpdateIfTracked(tabID, frameID int, off *types.SubFrameOffset) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	frames, ok := g.tabs[tabID]
	if !ok {
		return false
	}
	frames[frameID] = clone(off)
	return true
}

func (g *Graph) Delete(tabID, frameID int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if frames, ok := g.tabs[tabID]; ok {
		delete(frames, frameID)
	}
}

func (g *Graph) RemoveTab(tabID int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.tabs, tabID)
}

func (g *Graph) HasTab(tabID int) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.tabs[tabID]
	return ok
}

// FrameIDs lists the frames tracked for a tab in ascending order.
func (g *Graph) FrameIDs(tabID int) []int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]int, 0, len(g.tabs[tabID]))
	for id := range g.tabs[tabID] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Snapshot copies a tab's entries.
func (g *Graph) Snapshot(tabID int) map[int]*types.SubFrameOffset {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[int]*types.SubFrameOffset, len(g.tabs[tabID]))
	for id, off := range g.tabs[tabID] {
		if off != nil {
			off = clone(off)
		}
		out[id] = off
	}
	return out
}

func (g *Graph) framesLocked(tabID int) map[int]*types.SubFrameOffset {
	frames, ok := g.tabs[tabID]
	if !ok {
		frames = make(map[int]*types.SubFrameOffset)
		g.tabs[tabID] = frames
	}
	return frames
}

func clone(off *types.SubFrameOffset) *types.SubFrameOffset {
	if off == nil {
		return nil
	}
	c := *off
	c.ParentFrameIDs = append([]int(nil), off.ParentFrameIDs...)
	return &c
}
