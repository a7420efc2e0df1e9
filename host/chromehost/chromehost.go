// Package chromehost drives the wallet page in a local Chrome instance
// over CDP. The embedded channel lives in a background tab; the popup
// channel gets its own window. Wallet messages leave the page through an
// injected binding, host messages arrive as synthetic message events.
package chromehost

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/DougAnderson444/ArweaveWalletConnector/host"
)

const chromeStartTimeout = 15 * time.Second

// Config controls how Chrome is located and launched. The zero value
// launches a headless instance with a throwaway profile.
type Config struct {
	// CdpURL attaches to an already running Chrome instead of launching.
	CdpURL string

	ChromeBinary string
	ProfileDir   string
	ExtraFlags   string
	Headless     bool

	// Popup window geometry.
	PopupWidth  int
	PopupHeight int
}

func (c *Config) applyDefaults() {
	if c.ProfileDir == "" {
		c.ProfileDir = os.TempDir() + "/awc-profile"
	}
	if c.PopupWidth <= 0 {
		c.PopupWidth = 480
	}
	if c.PopupHeight <= 0 {
		c.PopupHeight = 720
	}
}

// Host implements host.Host on top of a single Chrome instance.
type Host struct {
	cfg Config

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu       sync.Mutex
	listener func(host.Message)
	started  bool
}

var _ host.Host = (*Host)(nil)

func New(cfg Config) *Host {
	cfg.applyDefaults()
	return &Host{cfg: cfg}
}

// Start boots the browser: an allocator (exec or remote attach) plus the
// browser-level CDP session. It must be called before opening endpoints.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return nil
	}

	if h.cfg.CdpURL != "" {
		slog.Info("connecting to Chrome", "url", h.cfg.CdpURL)
		h.allocCtx, h.allocCancel = chromedp.NewRemoteAllocator(context.Background(), h.cfg.CdpURL)
	} else {
		if err := os.MkdirAll(h.cfg.ProfileDir, 0755); err != nil {
			return fmt.Errorf("profile dir: %w", err)
		}
		for _, lockName := range []string{"SingletonLock", "SingletonSocket", "SingletonCookie"} {
			if err := os.Remove(h.cfg.ProfileDir + "/" + lockName); err == nil {
				slog.Warn("removed stale lock", "file", lockName)
			}
		}
		slog.Info("launching Chrome", "profile", h.cfg.ProfileDir, "headless", h.cfg.Headless)
		h.allocCtx, h.allocCancel = chromedp.NewExecAllocator(context.Background(), h.buildChromeOpts()...)
	}

	h.browserCtx, h.browserCancel = chromedp.NewContext(h.allocCtx)

	startCtx, startDone := context.WithTimeout(ctx, chromeStartTimeout)
	defer startDone()

	errCh := make(chan error, 1)
	go func() {
		errCh <- chromedp.Run(h.browserCtx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			h.shutdownLocked()
			return fmt.Errorf("start chrome: %w", err)
		}
	case <-startCtx.Done():
		h.shutdownLocked()
		return fmt.Errorf("chrome did not start within %s", chromeStartTimeout)
	}

	h.started = true
	return nil
}

func (h *Host) buildChromeOpts() []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.UserDataDir(h.cfg.ProfileDir),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,

		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-session-crashed-bubble", true),
		chromedp.Flag("hide-crash-restore-bubble", true),

		// The wallet page opens nothing itself, but the popup channel must
		// never be eaten by the blocker.
		chromedp.Flag("disable-popup-blocking", true),
	}

	if h.cfg.ChromeBinary != "" {
		opts = append(opts, chromedp.ExecPath(h.cfg.ChromeBinary))
	}
	if h.cfg.ExtraFlags != "" {
		for _, f := range strings.Fields(h.cfg.ExtraFlags) {
			if k, v, ok := strings.Cut(f, "="); ok {
				opts = append(opts, chromedp.Flag(strings.TrimLeft(k, "-"), v))
			} else {
				opts = append(opts, chromedp.Flag(strings.TrimLeft(f, "-"), true))
			}
		}
	}

	if h.cfg.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	return opts
}

// Stop tears down every tab along with the browser itself.
func (h *Host) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdownLocked()
	h.started = false
}

func (h *Host) shutdownLocked() {
	if h.browserCancel != nil {
		h.browserCancel()
		h.browserCancel = nil
	}
	if h.allocCancel != nil {
		h.allocCancel()
		h.allocCancel = nil
	}
}

// Listen registers the inbound message consumer. A single consumer is
// supported; the returned function unregisters it.
func (h *Host) Listen(fn func(host.Message)) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener != nil {
		return nil, fmt.Errorf("listener already registered")
	}
	h.listener = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.listener = nil
	}, nil
}

func (h *Host) dispatch(m host.Message) {
	h.mu.Lock()
	fn := h.listener
	h.mu.Unlock()
	if fn != nil {
		fn(m)
	}
}

// OpenEmbedded loads the wallet page in a background tab.
func (h *Host) OpenEmbedded(ctx context.Context, url string) (host.Endpoint, error) {
	if err := h.requireStarted(); err != nil {
		return nil, err
	}
	return h.openTab(ctx, url, false)
}

// OpenPopup loads the wallet page in its own window and brings it to the
// front.
func (h *Host) OpenPopup(ctx context.Context, url string) (host.Endpoint, error) {
	if err := h.requireStarted(); err != nil {
		return nil, err
	}
	return h.openTab(ctx, url, true)
}

func (h *Host) requireStarted() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started {
		return fmt.Errorf("chrome host not started")
	}
	return nil
}
