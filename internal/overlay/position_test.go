package overlay

import (
	"testing"

	"github.com/dgnsrekt/overlay_agent/internal/types"
)

func TestButtonPosition(t *testing.T) {
	field := &types.FocusedFieldData{
		FocusedFieldRects:  types.FocusedFieldRects{Top: 100, Left: 50, Width: 200, Height: 30},
		FocusedFieldStyles: types.FocusedFieldStyles{PaddingLeft: "4px", PaddingRight: "4px"},
	}
	got := buttonPosition(field, nil)
	want := types.Styles{"top": "106px", "left": "226px", "height": "19px", "width": "19px"}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("buttonPosition()[%q] = %q; want %q", k, got[k], v)
		}
	}
}

func TestButtonPositionWithRightPaddingAndOffset(t *testing.T) {
	field := &types.FocusedFieldData{
		FocusedFieldRects:  types.FocusedFieldRects{Top: 10, Left: 10, Width: 300, Height: 50},
		FocusedFieldStyles: types.FocusedFieldStyles{PaddingLeft: "8px", PaddingRight: "40px"},
	}
	offset := &types.SubFrameOffset{Left: 100, Top: 200}
	got := buttonPosition(field, offset)
	// elementOffset caps at 15; left = 10+300-50-(40-15+2) = 233, plus 100.
	if got["left"] != "333px" {
		t.Fatalf("left = %q; want 333px", got["left"])
	}
	if got["top"] != "218px" {
		t.Fatalf("top = %q; want 218px", got["top"])
	}
	if got["height"] != "35px" {
		t.Fatalf("height = %q; want 35px", got["height"])
	}
}

func TestListPosition(t *testing.T) {
	field := &types.FocusedFieldData{FocusedFieldRects: types.FocusedFieldRects{Top: 100, Left: 50, Width: 200, Height: 30}}
	got := listPosition(field, &types.SubFrameOffset{Left: 5, Top: 7})
	if got["top"] != "137px" || got["left"] != "55px" || got["width"] != "200px" {
		t.Fatalf("listPosition() = %v; want top 137px left 55px width 200px", got)
	}
}

func TestParsePx(t *testing.T) {
	cases := map[string]int{"12px": 12, " 3px": 3, "": 0, "auto": 0, "-2px": -2}
	for in, want := range cases {
		if got := parsePx(in); got != want {
			t.Fatalf("parsePx(%q) = %d; want %d", in, got, want)
		}
	}
}
