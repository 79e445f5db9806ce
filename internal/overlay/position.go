package overlay

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dgnsrekt/overlay_agent/internal/types"
)

func px(v float64) string {
	return fmt.Sprintf("%dpx", int(math.Round(v)))
}

// parsePx reads the integer part of a CSS length such as "12px".
func parsePx(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && (s[end] == '-' || (s[end] >= '0' && s[end] <= '9')) {
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

// buttonPosition places the button inside the right edge of the focused
// field, shrunk vertically so it never touches the field border.
func buttonPosition(field *types.FocusedFieldData, offset *types.SubFrameOffset) types.Styles {
	var subTop, subLeft float64
	if offset != nil {
		subTop, subLeft = offset.Top, offset.Left
	}
	r := field.FocusedFieldRects
	elementOffset := math.Min(r.Height*0.37, 15)
	paddingRight := parsePx(field.FocusedFieldStyles.PaddingRight)
	paddingLeft := parsePx(field.FocusedFieldStyles.PaddingLeft)

	elementHeight := r.Height - elementOffset
	top := subTop + r.Top + elementOffset/2
	left := r.Left + r.Width - r.Height + elementOffset/2
	if paddingRight > paddingLeft {
		left = r.Left + r.Width - r.Height - (float64(paddingRight) - elementOffset + 2)
	}
	return types.Styles{
		"top":    px(top),
		"left":   px(left + subLeft),
		"height": px(elementHeight),
		"width":  px(elementHeight),
	}
}

// listPosition anchors the list directly below the focused field.
func listPosition(field *types.FocusedFieldData, offset *types.SubFrameOffset) types.Styles {
	var subTop, subLeft float64
	if offset != nil {
		subTop, subLeft = offset.Top, offset.Left
	}
	r := field.FocusedFieldRects
	return types.Styles{
		"width": px(r.Width),
		"top":   px(r.Top + r.Height + subTop),
		"left":  px(r.Left + subLeft),
	}
}
