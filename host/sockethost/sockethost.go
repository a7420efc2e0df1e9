// Package sockethost bridges the wallet page over WebSocket instead of a
// locally driven browser. The host serves a single endpoint; a wallet
// page (or anything speaking the same protocol) connects back with a
// one-time ticket minted when the channel is opened. Each ticket maps to
// exactly one endpoint.
package sockethost

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	neturl "net/url"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/google/uuid"

	"github.com/DougAnderson444/ArweaveWalletConnector/host"
)

const (
	defaultPath         = "/bridge"
	defaultPingInterval = 30 * time.Second
)

// Config controls the listen socket. Addr is required; Path and
// PingInterval fall back to defaults. NoBrowser suppresses launching the
// user's browser when a channel opens; the connect URL is still logged so
// the wallet can be pointed at it by hand.
type Config struct {
	Addr         string
	Path         string
	PingInterval time.Duration
	NoBrowser    bool
}

func (c *Config) applyDefaults() {
	if c.Path == "" {
		c.Path = defaultPath
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
}

// Host implements host.Host over inbound WebSocket connections.
type Host struct {
	cfg Config
	srv *http.Server

	mu       sync.Mutex
	addr     string
	listener func(host.Message)
	pending  map[string]*wsEndpoint
	started  bool
}

var _ host.Host = (*Host)(nil)

func New(cfg Config) *Host {
	cfg.applyDefaults()
	return &Host{cfg: cfg, pending: make(map[string]*wsEndpoint)}
}

// Start binds the listen socket and serves the bridge endpoint.
func (h *Host) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return nil
	}
	if h.cfg.Addr == "" {
		return fmt.Errorf("socket host: no listen address")
	}

	ln, err := net.Listen("tcp", h.cfg.Addr)
	if err != nil {
		return fmt.Errorf("socket host listen: %w", err)
	}
	h.addr = ln.Addr().String()

	mux := http.NewServeMux()
	mux.HandleFunc(h.cfg.Path, h.handleBridge)
	h.srv = &http.Server{Handler: mux}

	go func() {
		if err := h.srv.Serve(ln); err != http.ErrServerClosed {
			slog.Error("socket host serve", "err", err)
		}
	}()

	h.started = true
	slog.Info("socket host listening", "addr", h.addr, "path", h.cfg.Path)
	return nil
}

// Stop shuts the server down and detaches every endpoint.
func (h *Host) Stop() {
	h.mu.Lock()
	srv := h.srv
	eps := make([]*wsEndpoint, 0, len(h.pending))
	for _, ep := range h.pending {
		eps = append(eps, ep)
	}
	h.pending = make(map[string]*wsEndpoint)
	h.started = false
	h.mu.Unlock()

	for _, ep := range eps {
		_ = ep.Close()
	}
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// Addr returns the bound listen address, useful when Config.Addr carried
// port zero.
func (h *Host) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addr
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

// OpenEmbedded mints the primary channel endpoint and waits for a wallet
// client to claim its ticket.
func (h *Host) OpenEmbedded(ctx context.Context, url string) (host.Endpoint, error) {
	return h.open(url, "embedded")
}

// OpenPopup mints a popup channel endpoint. The remote client decides
// what a popup looks like on its side.
func (h *Host) OpenPopup(ctx context.Context, url string) (host.Endpoint, error) {
	return h.open(url, "popup")
}

func (h *Host) open(walletURL, kind string) (host.Endpoint, error) {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return nil, fmt.Errorf("socket host not started")
	}
	ep := &wsEndpoint{
		h:      h,
		kind:   kind,
		ticket: uuid.NewString(),
		done:   make(chan struct{}),
	}
	h.pending[ep.ticket] = ep
	addr := h.addr
	h.mu.Unlock()

	connect := fmt.Sprintf("ws://%s%s?ticket=%s&kind=%s", addr, h.cfg.Path, ep.ticket, kind)
	launch, err := dialBackURL(walletURL, connect)
	if err != nil {
		h.forget(ep.ticket)
		return nil, err
	}

	slog.Info("awaiting wallet connection", "kind", kind, "wallet", launch, "connect", connect)
	if !h.cfg.NoBrowser {
		if err := openBrowser(launch); err != nil {
			slog.Warn("cannot launch browser, open the wallet URL manually", "err", err, "url", launch)
		}
	}
	return ep, nil
}

// dialBackURL appends the bridge's WebSocket address to the wallet URL's
// query so the page knows where to connect back. The fragment, which
// carries the session payload, is left untouched.
func dialBackURL(walletURL, connect string) (string, error) {
	u, err := neturl.Parse(walletURL)
	if err != nil {
		return "", fmt.Errorf("parse wallet url: %w", err)
	}
	q := u.Query()
	q.Set("awcBridge", connect)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// openBrowser starts the platform's default browser at url.
func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return cmd.Start()
}

func (h *Host) claim(ticket string) *wsEndpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	ep := h.pending[ticket]
	delete(h.pending, ticket)
	return ep
}

func (h *Host) forget(ticket string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.pending, ticket)
}

// handleBridge upgrades a wallet connection and binds it to the endpoint
// its ticket names.
func (h *Host) handleBridge(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		http.Error(w, "missing ticket", http.StatusBadRequest)
		return
	}
	ep := h.claim(ticket)
	if ep == nil {
		http.Error(w, "unknown ticket", http.StatusNotFound)
		return
	}

	origin := r.Header.Get("Origin")

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	if err := ep.attach(conn, origin); err != nil {
		slog.Warn("wallet connection rejected", "kind", ep.kind, "err", err)
		conn.Close()
		return
	}
	slog.Info("wallet connected", "kind", ep.kind, "origin", origin)
}
