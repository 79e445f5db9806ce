package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"syscall"
	"time"
)

const cdpReadyTimeout = 15 * time.Second

// LaunchConfig describes a browser started for CDP mode.
type LaunchConfig struct {
	Address      string
	Port         int
	ProfileDir   string
	ExtensionDir string
	StartURL     string
}

// Launcher starts a local Chromium with remote debugging enabled and, when
// configured, the extension shim preloaded.
type Launcher struct {
	cfg LaunchConfig
	cmd *exec.Cmd
}

func NewLauncher(cfg LaunchConfig) *Launcher {
	if cfg.StartURL == "" {
		cfg.StartURL = "about:blank"
	}
	return &Launcher{cfg: cfg}
}

func detectBrowser() (string, error) {
	for _, name := range []string{"chromium-browser", "chromium", "google-chrome"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	if runtime.GOOS == "darwin" {
		macPath := "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(macPath); err == nil {
			return macPath, nil
		}
	}
	return "", fmt.Errorf("cdp: no supported browser found (tried chromium-browser, chromium, google-chrome)")
}

func (l *Launcher) addr() string {
	return net.JoinHostPort(l.cfg.Address, strconv.Itoa(l.cfg.Port))
}

func isPortInUse(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (l *Launcher) args() []string {
	args := []string{
		"--remote-debugging-port=" + strconv.Itoa(l.cfg.Port),
		"--remote-debugging-address=" + l.cfg.Address,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-dev-shm-usage",
	}
	if l.cfg.ProfileDir != "" {
		args = append(args, "--user-data-dir="+l.cfg.ProfileDir)
	}
	if l.cfg.ExtensionDir != "" {
		args = append(args,
			"--load-extension="+l.cfg.ExtensionDir,
			"--disable-extensions-except="+l.cfg.ExtensionDir,
		)
	}
	return append(args, l.cfg.StartURL)
}

// Launch starts the browser unless something already listens on the CDP
// port, then waits for the endpoint to answer.
func (l *Launcher) Launch(ctx context.Context) error {
	if isPortInUse(l.addr()) {
		slog.Info("browser already running, skipping launch", "addr", l.addr())
		return nil
	}
	browserPath, err := detectBrowser()
	if err != nil {
		return err
	}
	if l.cfg.ProfileDir != "" {
		if err := os.MkdirAll(l.cfg.ProfileDir, 0o700); err != nil {
			return fmt.Errorf("cdp: create profile dir: %w", err)
		}
	}

	l.cmd = exec.Command(browserPath, l.args()...)
	l.cmd.Stdout = os.Stdout
	l.cmd.Stderr = os.Stderr
	if err := l.cmd.Start(); err != nil {
		return fmt.Errorf("cdp: start browser: %w", err)
	}
	slog.Info("browser process started", "path", browserPath, "pid", l.cmd.Process.Pid)

	if err := l.waitForCDP(ctx); err != nil {
		l.Stop()
		return fmt.Errorf("cdp: waiting for endpoint: %w", err)
	}
	slog.Info("CDP endpoint ready", "addr", l.addr())
	return nil
}

// waitForCDP polls /json/version until it responds.
func (l *Launcher) waitForCDP(ctx context.Context) error {
	url := "http://" + l.addr() + "/json/version"
	deadline := time.After(cdpReadyTimeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	client := &http.Client{Timeout: time.Second}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("not ready within %s at %s", cdpReadyTimeout, url)
		case <-ticker.C:
			resp, err := client.Get(url)
			if err != nil {
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}

// Stop terminates a browser this launcher started, escalating to SIGKILL.
func (l *Launcher) Stop() {
	if l.cmd == nil || l.cmd.Process == nil {
		return
	}
	slog.Info("stopping browser", "pid", l.cmd.Process.Pid)
	_ = l.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_ = l.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		slog.Warn("browser did not exit, sending SIGKILL")
		_ = l.cmd.Process.Kill()
		<-done
	}
	l.cmd = nil
}
