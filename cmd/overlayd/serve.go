package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/overlay_agent/internal/api"
	"github.com/dgnsrekt/overlay_agent/internal/audit"
	"github.com/dgnsrekt/overlay_agent/internal/autofill"
	"github.com/dgnsrekt/overlay_agent/internal/bridge"
	"github.com/dgnsrekt/overlay_agent/internal/cdp"
	"github.com/dgnsrekt/overlay_agent/internal/config"
	"github.com/dgnsrekt/overlay_agent/internal/netutil"
	"github.com/dgnsrekt/overlay_agent/internal/overlay"
	"github.com/dgnsrekt/overlay_agent/internal/platform"
	"github.com/dgnsrekt/overlay_agent/internal/relay"
	"github.com/dgnsrekt/overlay_agent/internal/subframe"
	"github.com/dgnsrekt/overlay_agent/internal/vault"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator and its HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("overlayd config loaded",
		"bind_addr", cfg.BindAddr,
		"port_candidates", cfg.PortCandidates,
		"vault_path", cfg.VaultPath,
		"audit_dir", cfg.AuditDir,
		"cdp_enabled", cfg.CDPEnabled,
		"message_timeout", cfg.MessageTimeout,
		"log_level", cfg.LogLevel,
	)

	ln, err := netutil.Listen(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		return fmt.Errorf("select bind address: %w", err)
	}
	defer ln.Close()
	bindAddr := ln.Addr().String()
	if !netutil.IsLoopback(bindAddr) {
		slog.Warn("overlayd is reachable from other hosts; vault unlock is exposed", "addr", bindAddr)
	}

	store, err := vault.Open(ctx, cfg.VaultPath)
	if err != nil {
		return err
	}
	defer store.Close()

	auditLog := audit.NewWriter(cfg.AuditDir, 256, 10)
	defer func() {
		if err := auditLog.Close(); err != nil {
			slog.Warn("audit close failed", "error", err)
		}
	}()

	hub := bridge.NewHub(cfg.MessageTimeout)
	broker := relay.NewBroker()

	var frames subframe.FrameTree = hub
	var cdpClient *cdp.Client
	if cfg.CDPEnabled {
		cdpClient = cdp.NewClient(cfg.GetCDPURL(), cfg.TabURLFilter, cdp.NewTabRegistry())
		frames = cdpClient
	}

	bg, err := overlay.New(overlay.Deps{
		Messenger: hub,
		Frames:    frames,
		Auth:      store,
		Ciphers:   store,
		Autofill:  autofill.New(hub, store),
		Popouts:   platform.NewPopouts(hub),
		Clipboard: platform.NewSystemClipboard(),
		Events:    broker,
		Audit:     auditLog,
	}, cfg.OverlayOptions())
	if err != nil {
		return err
	}
	defer bg.Close()
	hub.SetHandler(bg)

	srv := &http.Server{
		Handler: api.NewServer(api.Deps{
			Overlay:     bg,
			Vault:       store,
			Audit:       auditLog,
			Events:      broker,
			Extension:   hub,
			Connections: hub.Connections,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("overlayd listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs", "extension_ws", "ws://"+bindAddr+"/ws/extension")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if cdpClient != nil {
		cdpClient.SetHandler(bg)
		g.Go(func() error {
			if cfg.CDPLaunch {
				launcher := cdp.NewLauncher(cdp.LaunchConfig{
					Address:      cfg.CDPAddress,
					Port:         cfg.CDPPort,
					ProfileDir:   cfg.ProfileDir,
					ExtensionDir: cfg.ExtensionDir,
				})
				if err := launcher.Launch(gctx); err != nil {
					return err
				}
				defer launcher.Stop()
			}
			if err := cdpClient.Connect(gctx); err != nil {
				return fmt.Errorf("cdp connect %s: %w", cfg.GetCDPURL(), err)
			}
			<-gctx.Done()
			return cdpClient.Close()
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("overlayd shutdown failed", "error", err)
		}
		return nil
	})

	err = g.Wait()
	slog.Info("overlayd stopped")
	return err
}
