// Package platform adapts host facilities (system clipboard, extension
// popouts) to the overlay coordinator.
package platform

import (
	"fmt"
	"log/slog"

	"github.com/atotto/clipboard"
)

// SystemClipboard writes to the OS clipboard.
type SystemClipboard struct {
	write func(string) error
}

func NewSystemClipboard() *SystemClipboard {
	return &SystemClipboard{write: clipboard.WriteAll}
}

// Copy fails softly on headless hosts where no clipboard utility exists.
func (c *SystemClipboard) Copy(text string) error {
	if clipboard.Unsupported {
		slog.Debug("clipboard unsupported on this host")
		return nil
	}
	if err := c.write(text); err != nil {
		return fmt.Errorf("platform: copy to clipboard: %w", err)
	}
	return nil
}
