// Package connector bridges a host application to a remote web wallet
// through two channels, an always-present embedded browsing context and an
// optional user-visible popup, using correlated JSON-RPC style requests
// plus unsolicited notifications.
//
// The windowing substrate is pluggable through the host package; chromehost
// drives a Chrome instance and sockethost accepts wallet pages dialing back
// over WebSocket.
package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DougAnderson444/ArweaveWalletConnector/event"
	"github.com/DougAnderson444/ArweaveWalletConnector/host"
	"github.com/DougAnderson444/ArweaveWalletConnector/wire"
)

const (
	defaultPopupPoll      = 200 * time.Millisecond
	defaultAutoCloseDelay = 100 * time.Millisecond

	// postTimeout bounds a single substrate post so a wedged context
	// cannot stall a channel's queue forever.
	postTimeout = 30 * time.Second
)

// Emitter receives the connector's message and builtin events. *event.Bus
// satisfies it; handlers run synchronously on the publishing goroutine.
type Emitter interface {
	Publish(event.Event)
}

var _ Emitter = (*event.Bus)(nil)

// Bridge owns the two channel controllers, the request table, and the
// popup policy flags. All methods are safe for concurrent use.
type Bridge struct {
	url     *url.URL
	origin  string
	session string

	appName   string
	appLogo   string
	appOrigin string

	host     host.Host
	emitter  Emitter
	bus      *event.Bus
	requests *requestTable

	popupPoll      time.Duration
	autoCloseDelay time.Duration
	onFatal        func(error)

	mu        sync.Mutex
	embedded  *channel
	popup     *channel
	usePopup  bool
	keepPopup bool
	closed    bool
	unlisten  func()
}

// Option configures a Bridge before it connects.
type Option func(*Bridge)

// WithHost supplies the windowing substrate. Required.
func WithHost(h host.Host) Option {
	return func(b *Bridge) { b.host = h }
}

// WithEmitter replaces the default event bus.
func WithEmitter(e Emitter) Option {
	return func(b *Bridge) { b.emitter = e; b.bus = nil }
}

// WithAppInfo advertises the application's name and logo to the wallet.
func WithAppInfo(name, logo string) Option {
	return func(b *Bridge) { b.appName = name; b.appLogo = logo }
}

// WithOrigin sets the host application origin placed in the URL fragment.
func WithOrigin(origin string) Option {
	return func(b *Bridge) { b.appOrigin = origin }
}

// WithSession overrides the generated session token.
func WithSession(token string) Option {
	return func(b *Bridge) { b.session = token }
}

// WithFatalHandler replaces the default protocol-violation handler, which
// logs at error level.
func WithFatalHandler(fn func(error)) Option {
	return func(b *Bridge) { b.onFatal = fn }
}

// WithPopupPollInterval overrides the popup liveness poll interval.
func WithPopupPollInterval(d time.Duration) Option {
	return func(b *Bridge) { b.popupPoll = d }
}

// WithAutoCloseDelay overrides the idle-popup auto-close delay.
func WithAutoCloseDelay(d time.Duration) Option {
	return func(b *Bridge) { b.autoCloseDelay = d }
}

// New connects to the wallet at walletURL: it merges the session fragment
// into the URL, registers the inbound listener, and opens the embedded
// channel. The caller should follow up with Ready to wait for the wallet
// to announce itself.
func New(ctx context.Context, walletURL string, opts ...Option) (*Bridge, error) {
	bus := event.NewBus()
	b := &Bridge{
		emitter:        bus,
		bus:            bus,
		requests:       newRequestTable(),
		session:        uuid.NewString(),
		popupPoll:      defaultPopupPoll,
		autoCloseDelay: defaultAutoCloseDelay,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.host == nil {
		return nil, fmt.Errorf("a host substrate is required")
	}
	if b.onFatal == nil {
		b.onFatal = func(err error) { slog.Error("protocol violation", "err", err) }
	}

	u, err := parseWalletURL(walletURL)
	if err != nil {
		return nil, err
	}
	b.origin = originOf(u)
	u.Fragment = b.fragment()
	b.url = u

	unlisten, err := b.host.Listen(b.handleMessage)
	if err != nil {
		return nil, fmt.Errorf("register listener: %w", err)
	}
	b.unlisten = unlisten

	ep, err := b.host.OpenEmbedded(ctx, b.url.String())
	if err != nil {
		unlisten()
		return nil, fmt.Errorf("open embedded channel: %w", err)
	}
	ch := newChannel(kindEmbedded, ep)
	b.mu.Lock()
	b.embedded = ch
	b.mu.Unlock()
	go ch.run(b)

	slog.Info("connector started", "origin", b.origin, "session", b.session)
	return b, nil
}

// Ready blocks until the embedded channel has signaled it can accept
// traffic.
func (b *Bridge) Ready(ctx context.Context) error {
	b.mu.Lock()
	ch := b.embedded
	b.mu.Unlock()
	if ch == nil {
		return ErrDisconnected
	}
	return ch.ready.wait(ctx)
}

// Request issues a correlated wallet call and returns its future. The
// entry is registered before delivery is queued, so a reply can never beat
// its own registration. A timeout of zero leaves the call pending until a
// reply arrives.
func (b *Bridge) Request(method string, params any, timeout time.Duration) *Call {
	call := b.requests.add(b.requestSettled)
	if timeout > 0 {
		call.setTimeout(timeout)
	}

	id := call.ID()
	data, err := json.Marshal(wire.Request{Method: method, Params: params, ID: &id, JSONRPC: wire.Version})
	if err != nil {
		call.settle(nil, fmt.Errorf("encode request: %w", err))
		return call
	}
	b.deliver(id, data)
	return call
}

// deliver fans one encoded request out: always through the embedded
// channel, and through the popup too while the usePopup policy is on. Each
// channel's queue preserves submission order; per-post failures are
// swallowed, since correctness rides on the request timeout.
func (b *Bridge) deliver(id int64, data []byte) {
	b.mu.Lock()
	if b.url == nil {
		b.mu.Unlock()
		b.fatal(ErrNoTargetURL)
		return
	}
	if b.closed {
		b.mu.Unlock()
		slog.Warn("request submitted after disconnect", "id", id)
		return
	}
	emb := b.embedded
	var pop *channel
	if b.usePopup {
		pop = b.openPopupLocked(false)
	}
	b.mu.Unlock()

	if emb != nil {
		emb.queue.push(outbound{id: -1, data: data})
	}
	if pop != nil {
		pop.queue.push(outbound{id: id, data: data})
	}
}

// requestSettled runs once per call, whichever way it settles: the entry
// is destroyed and the popup auto-close check armed.
func (b *Bridge) requestSettled(c *Call) {
	b.requests.clear(c.ID())
	b.scheduleAutoClose()
}

// Origin returns the wallet origin every inbound message must present.
func (b *Bridge) Origin() string { return b.origin }

// Session returns the random token identifying this connection.
func (b *Bridge) Session() string { return b.session }

// WalletURL returns the full wallet URL, session fragment included.
func (b *Bridge) WalletURL() string { return b.url.String() }

// Events returns the default bus, or nil when a custom emitter was
// supplied.
func (b *Bridge) Events() *event.Bus { return b.bus }

// Disconnect closes both channels and unregisters the inbound listener.
// Requests still pending stay unsettled; pair them with timeouts or a ctx
// on Await. Safe to call more than once.
func (b *Bridge) Disconnect() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	unlisten := b.unlisten
	b.unlisten = nil
	emb := b.embedded
	b.embedded = nil
	pop := b.popup
	b.popup = nil
	b.mu.Unlock()

	if unlisten != nil {
		unlisten()
	}
	for _, ch := range []*channel{emb, pop} {
		if ch == nil {
			continue
		}
		if ch.kind == kindPopup {
			if err := ch.endpoint.Navigate(inertPage); err != nil {
				slog.Debug("popup navigate on disconnect", "err", err)
			}
		}
		if err := ch.endpoint.Close(); err != nil {
			slog.Debug("endpoint close", "channel", ch.kind, "err", err)
		}
		ch.teardown()
	}
	slog.Info("connector disconnected")
}

func (b *Bridge) emit(e event.Event) {
	if b.emitter != nil {
		b.emitter.Publish(e)
	}
}

func (b *Bridge) fatal(err error) {
	b.onFatal(err)
}
