package overlay

import (
	"time"

	"github.com/dgnsrekt/overlay_agent/internal/subframe"
)

const (
	DefaultDelayedCloseDelay    = 100 * time.Millisecond
	DefaultFadeInDelay          = 150 * time.Millisecond
	DefaultRepositionDelay      = 250 * time.Millisecond
	DefaultSubFrameRebuildDelay = 750 * time.Millisecond
	DefaultUnlockRetryTTL       = 2000 * time.Millisecond
	DefaultPortKeyLength        = 12
)

// Options tunes the coordinator's timings. Zero values take the defaults.
type Options struct {
	DelayedCloseDelay    time.Duration
	FadeInDelay          time.Duration
	RepositionDelay      time.Duration
	SubFrameRebuildDelay time.Duration
	UnlockRetryTTL       time.Duration
	MaxSubFrameDepth     int
	PortKeyLength        int
	IconsServerURL       string
}

func (o Options) withDefaults() Options {
	if o.DelayedCloseDelay <= 0 {
		o.DelayedCloseDelay = DefaultDelayedCloseDelay
	}
	if o.FadeInDelay <= 0 {
		o.FadeInDelay = DefaultFadeInDelay
	}
	if o.RepositionDelay <= 0 {
		o.RepositionDelay = DefaultRepositionDelay
	}
	if o.SubFrameRebuildDelay <= 0 {
		o.SubFrameRebuildDelay = DefaultSubFrameRebuildDelay
	}
	if o.UnlockRetryTTL <= 0 {
		o.UnlockRetryTTL = DefaultUnlockRetryTTL
	}
	if o.MaxSubFrameDepth <= 0 {
		o.MaxSubFrameDepth = subframe.DefaultMaxDepth
	}
	if o.PortKeyLength <= 0 {
		o.PortKeyLength = DefaultPortKeyLength
	}
	return o
}
