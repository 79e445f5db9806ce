package subframe

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"slices"

	"github.com/dgnsrekt/overlay_agent/internal/types"
)

// DefaultMaxDepth bounds how many ancestor hops a build may walk before the
// frame is treated as pathologically nested.
const DefaultMaxDepth = 8

// FrameTree answers parent lookups for a frame. A nil result means the
// frame is unknown to the host.
type FrameTree interface {
	GetFrameDetails(ctx context.Context, tabID, frameID int) (*types.FrameDetails, error)
}

// Messenger delivers a message to one frame of a tab and returns its reply.
// A nil or "null" reply means the frame did not answer.
type Messenger interface {
	TabSendMessage(ctx context.Context, tab *types.Tab, msg any, frameID int) (json.RawMessage, error)
}

// Builder walks a frame's ancestor chain and accumulates its offset into a
// Graph.
type Builder struct {
	graph     *Graph
	frames    FrameTree
	messenger Messenger
	maxDepth  int
}

func NewBuilder(graph *Graph, frames FrameTree, messenger Messenger, maxDepth int) *Builder {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Builder{graph: graph, frames: frames, messenger: messenger, maxDepth: maxDepth}
}

// Graph exposes the graph the builder writes to.
func (b *Builder) Graph() *Graph { return b.graph }

type frameOffsetReply struct {
	Left float64 `json:"left"`
	Top  float64 `json:"top"`
	URL  string  `json:"url"`
}

// Build computes the offset of frameID within tab. Unless force is set, a
// frame that already has an entry (resolved or pending) is skipped, so at
// most one computation is outstanding per frame.
func (b *Builder) Build(ctx context.Context, tab *types.Tab, frameID int, url string, force bool) {
	if tab == nil || frameID == types.TopFrameID {
		return
	}
	if force {
		b.graph.Set(tab.ID, frameID, nil)
	} else if !b.graph.Reserve(tab.ID, frameID) {
		slog.Debug("subframe offset cached", "tab_id", tab.ID, "frame_id", frameID)
		return
	}

	offset := &types.SubFrameOffset{FrameID: frameID, URL: url}
	var ancestors []int

	details := b.frameDetails(ctx, tab.ID, frameID)
	depth := 0
	for details != nil && details.ParentFrameID >= 0 {
		depth++
		if depth > b.maxDepth {
			slog.Warn("subframe nesting too deep, disabling inline menu", "tab_id", tab.ID, "frame_id", frameID, "depth", depth)
			b.graph.Delete(tab.ID, frameID)
			b.send(ctx, tab, types.CommandMessage{Command: types.CmdDestroyAutofillInlineMenuListeners}, frameID)
			return
		}

		reply, ok := b.requestOffset(ctx, tab, details)
		if !ok {
			slog.Debug("subframe offset unavailable, falling back to window message", "tab_id", tab.ID, "frame_id", frameID, "parent_frame_id", details.ParentFrameID)
			b.send(ctx, tab, types.SubFrameIDMessage{Command: types.CmdGetSubFrameOffsetsFromWindowMessage, SubFrameID: frameID}, frameID)
			return
		}

		offset.Left += reply.Left
		offset.Top += reply.Top
		if !slices.Contains(ancestors, details.ParentFrameID) {
			ancestors = append(ancestors, details.ParentFrameID)
		}
		if details.ParentFrameID == types.TopFrameID {
			break
		}
		details = b.frameDetails(ctx, tab.ID, details.ParentFrameID)
	}

	slices.Reverse(ancestors)
	if len(ancestors) == 0 || ancestors[0] != types.TopFrameID {
		ancestors = append([]int{types.TopFrameID}, slices.DeleteFunc(ancestors, func(id int) bool { return id == types.TopFrameID })...)
	}
	offset.ParentFrameIDs = ancestors

	if !b.graph.Resolve(tab.ID, frameID, offset) {
		slog.Debug("subframe offset discarded after invalidation", "tab_id", tab.ID, "frame_id", frameID)
		return
	}
	slog.Debug("subframe offset built", "tab_id", tab.ID, "frame_id", frameID, "left", offset.Left, "top", offset.Top, "parents", offset.ParentFrameIDs)
}

func (b *Builder) frameDetails(ctx context.Context, tabID, frameID int) *types.FrameDetails {
	if b.frames == nil {
		return nil
	}
	details, err := b.frames.GetFrameDetails(ctx, tabID, frameID)
	if err != nil {
		slog.Debug("frame details lookup failed", "tab_id", tabID, "frame_id", frameID, "error", err)
		return nil
	}
	return details
}

// requestOffset asks the parent frame where the child's iframe element sits.
func (b *Builder) requestOffset(ctx context.Context, tab *types.Tab, details *types.FrameDetails) (frameOffsetReply, bool) {
	msg := types.GetSubFrameOffsetsMessage{
		Command:     types.CmdGetSubFrameOffsets,
		SubFrameURL: details.URL,
		SubFrameID:  details.DocumentID,
	}
	raw, err := b.messenger.TabSendMessage(ctx, tab, msg, details.ParentFrameID)
	if err != nil {
		slog.Debug("getSubFrameOffsets failed", "tab_id", tab.ID, "frame_id", details.ParentFrameID, "error", err)
		return frameOffsetReply{}, false
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return frameOffsetReply{}, false
	}
	var reply frameOffsetReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		slog.Debug("getSubFrameOffsets reply malformed", "tab_id", tab.ID, "frame_id", details.ParentFrameID, "error", err)
		return frameOffsetReply{}, false
	}
	return reply, true
}

func (b *Builder) send(ctx context.Context, tab *types.Tab, msg any, frameID int) {
	if _, err := b.messenger.TabSendMessage(ctx, tab, msg, frameID); err != nil {
		slog.Debug("subframe message failed", "tab_id", tab.ID, "frame_id", frameID, "error", err)
	}
}
