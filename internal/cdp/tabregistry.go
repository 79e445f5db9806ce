package cdp

import (
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/overlay_agent/internal/types"
)

// TabRegistry maps CDP targets and frames to the integer tab and frame ids
// the coordinator works with. The top frame of every tab is frame 0.
type TabRegistry struct {
	tabs    map[int]*tabEntry
	byTgt   map[target.ID]int
	nextTab int
	mu      sync.RWMutex
}

type tabEntry struct {
	tab       types.Tab
	targetID  target.ID
	frameIDs  map[cdp.FrameID]int
	frames    map[int]frameEntry
	nextFrame int
}

type frameEntry struct {
	cdpID    cdp.FrameID
	parentID cdp.FrameID
	url      string
	loaderID cdp.LoaderID
}

func NewTabRegistry() *TabRegistry {
	return &TabRegistry{
		tabs:    make(map[int]*tabEntry),
		byTgt:   make(map[target.ID]int),
		nextTab: 1,
	}
}

// Register assigns a stable tab id to the target, updating its URL when it
// is already known.
func (r *TabRegistry) Register(targetID target.ID, url string) *types.Tab {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byTgt[targetID]; ok {
		e := r.tabs[id]
		e.tab.URL = url
		tab := e.tab
		return &tab
	}
	id := r.nextTab
	r.nextTab++
	r.byTgt[targetID] = id
	r.tabs[id] = &tabEntry{
		tab:       types.Tab{ID: id, URL: url},
		targetID:  targetID,
		frameIDs:  make(map[cdp.FrameID]int),
		frames:    make(map[int]frameEntry),
		nextFrame: 1,
	}
	return &types.Tab{ID: id, URL: url}
}

func (r *TabRegistry) TabID(targetID target.ID) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byTgt[targetID]
	return id, ok
}

// GetTab returns a copy of the registered tab's metadata.
func (r *TabRegistry) GetTab(tabID int) (*types.Tab, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tabs[tabID]
	if !ok {
		return nil, false
	}
	tab := e.tab
	return &tab, true
}

// TabIDs lists the registered tabs.
func (r *TabRegistry) TabIDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int, 0, len(r.tabs))
	for id := range r.tabs {
		ids = append(ids, id)
	}
	return ids
}

// SetFrameTree records every frame in tree, assigning ids to new frames.
func (r *TabRegistry) SetFrameTree(tabID int, tree *page.FrameTree) {
	if tree == nil {
		return
	}
	var walk func(t *page.FrameTree)
	walk = func(t *page.FrameTree) {
		if t.Frame != nil {
			r.FrameNavigated(tabID, t.Frame)
		}
		for _, child := range t.ChildFrames {
			walk(child)
		}
	}
	walk(tree)
}

// FrameNavigated records a frame and returns its integer id. A frame with
// no parent is the tab's top frame.
func (r *TabRegistry) FrameNavigated(tabID int, frame *cdp.Frame) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tabs[tabID]
	if !ok || frame == nil {
		return 0, false
	}
	var id int
	if frame.ParentID == "" {
		id = types.TopFrameID
		e.tab.URL = frame.URL
	} else if known, ok := e.frameIDs[frame.ID]; ok {
		id = known
	} else {
		id = e.nextFrame
		e.nextFrame++
	}
	e.frameIDs[frame.ID] = id
	e.frames[id] = frameEntry{cdpID: frame.ID, parentID: frame.ParentID, url: frame.URL, loaderID: frame.LoaderID}
	return id, true
}

// FrameDetached forgets a frame.
func (r *TabRegistry) FrameDetached(tabID int, frameID cdp.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tabs[tabID]
	if !ok {
		return
	}
	if id, ok := e.frameIDs[frameID]; ok {
		delete(e.frames, id)
		delete(e.frameIDs, frameID)
	}
}

// FrameDetails reports a frame's parent. The top frame's parent is -1.
func (r *TabRegistry) FrameDetails(tabID, frameID int) (*types.FrameDetails, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tabs[tabID]
	if !ok {
		return nil, false
	}
	f, ok := e.frames[frameID]
	if !ok {
		return nil, false
	}
	parent := -1
	if f.parentID != "" {
		p, ok := e.frameIDs[f.parentID]
		if !ok {
			return nil, false
		}
		parent = p
	}
	return &types.FrameDetails{
		FrameID:       frameID,
		ParentFrameID: parent,
		URL:           f.url,
		DocumentID:    string(f.loaderID),
	}, true
}

func (r *TabRegistry) Remove(targetID target.ID) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byTgt[targetID]
	if !ok {
		return 0, false
	}
	delete(r.byTgt, targetID)
	delete(r.tabs, id)
	return id, true
}

func (r *TabRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tabs)
}
