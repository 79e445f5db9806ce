package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dgnsrekt/overlay_agent/internal/netutil"
	"github.com/dgnsrekt/overlay_agent/internal/overlay"
)

// Config holds all configuration for the overlay daemon.
type Config struct {
	// HTTP surface
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool
	MessageTimeout   time.Duration
	LogLevel         string
	LogFile          string

	// Storage
	VaultPath string
	AuditDir  string

	IconsURL string

	// CDP mode
	CDPEnabled   bool
	CDPAddress   string
	CDPPort      int
	TabURLFilter string
	CDPLaunch    bool
	ProfileDir   string
	ExtensionDir string

	// Coordinator timings
	DelayedClose     time.Duration
	FadeIn           time.Duration
	Reposition       time.Duration
	SubFrameRebuild  time.Duration
	UnlockRetryTTL   time.Duration
	MaxSubFrameDepth int
}

// Load reads configuration from environment variables and an optional .env
// file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		BindAddr:         getEnvOrDefault("OVERLAY_BIND_ADDR", "127.0.0.1:8219"),
		PortCandidates:   netutil.ParseCandidates(getEnvOrDefault("OVERLAY_PORT_CANDIDATES", "127.0.0.1:8220,127.0.0.1:8221,127.0.0.1:8222")),
		PortAutoFallback: getEnvBoolOrDefault("OVERLAY_PORT_AUTO_FALLBACK", true),
		MessageTimeout:   getEnvDurationOrDefault("OVERLAY_MESSAGE_TIMEOUT_MS", 2*time.Second),
		LogLevel:         strings.ToLower(getEnvOrDefault("OVERLAY_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("OVERLAY_LOG_FILE", "logs/overlayd.log"),
		VaultPath:        getEnvOrDefault("OVERLAY_VAULT_PATH", "./data/vault.db"),
		AuditDir:         getEnvOrDefault("OVERLAY_AUDIT_DIR", "./data/audit"),
		IconsURL:         getEnvOrDefault("OVERLAY_ICONS_URL", ""),
		CDPEnabled:       getEnvBoolOrDefault("OVERLAY_CDP_ENABLED", false),
		CDPAddress:       getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		TabURLFilter:     getEnvOrDefault("OVERLAY_TAB_URL_FILTER", ""),
		CDPLaunch:        getEnvBoolOrDefault("OVERLAY_CDP_LAUNCH", false),
		ProfileDir:       getEnvOrDefault("OVERLAY_BROWSER_PROFILE_DIR", "./data/browser-profile"),
		ExtensionDir:     getEnvOrDefault("OVERLAY_EXTENSION_DIR", ""),
		DelayedClose:     getEnvDurationOrDefault("OVERLAY_DELAYED_CLOSE_MS", overlay.DefaultDelayedCloseDelay),
		FadeIn:           getEnvDurationOrDefault("OVERLAY_FADE_IN_MS", overlay.DefaultFadeInDelay),
		Reposition:       getEnvDurationOrDefault("OVERLAY_REPOSITION_MS", overlay.DefaultRepositionDelay),
		SubFrameRebuild:  getEnvDurationOrDefault("OVERLAY_SUBFRAME_REBUILD_MS", overlay.DefaultSubFrameRebuildDelay),
		UnlockRetryTTL:   getEnvDurationOrDefault("OVERLAY_UNLOCK_RETRY_TTL_MS", overlay.DefaultUnlockRetryTTL),
		MaxSubFrameDepth: getEnvIntOrDefault("OVERLAY_MAX_SUBFRAME_DEPTH", 8),
	}
	if cfg.MessageTimeout < 100*time.Millisecond {
		cfg.MessageTimeout = 100 * time.Millisecond
	}
	if cfg.CDPEnabled && cfg.CDPPort <= 0 {
		return nil, fmt.Errorf("config: CHROMIUM_CDP_PORT must be positive, got %d", cfg.CDPPort)
	}
	return cfg, nil
}

// GetCDPURL returns the CDP HTTP endpoint used by the chromedp remote
// allocator.
func (c *Config) GetCDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

// OverlayOptions maps the timing keys onto the coordinator's options.
func (c *Config) OverlayOptions() overlay.Options {
	return overlay.Options{
		DelayedCloseDelay:    c.DelayedClose,
		FadeInDelay:          c.FadeIn,
		RepositionDelay:      c.Reposition,
		SubFrameRebuildDelay: c.SubFrameRebuild,
		UnlockRetryTTL:       c.UnlockRetryTTL,
		MaxSubFrameDepth:     c.MaxSubFrameDepth,
		IconsServerURL:       c.IconsURL,
	}
}

// SlogLevel parses LogLevel, defaulting to Info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDurationOrDefault reads a millisecond count.
func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}
