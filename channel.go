package connector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/DougAnderson444/ArweaveWalletConnector/host"
)

const (
	kindEmbedded = "embedded"
	kindPopup    = "popup"

	// inertPage is where a popup is parked before it is closed.
	inertPage = "about:blank"
)

// gate is a settle-once readiness future. resolve and fail are one-shot;
// later settlements are no-ops.
type gate struct {
	mu      sync.Mutex
	settled bool
	err     error
	done    chan struct{}
}

func newGate() *gate { return &gate{done: make(chan struct{})} }

func (g *gate) resolve() bool { return g.settle(nil) }

func (g *gate) fail(err error) bool { return g.settle(err) }

func (g *gate) settle(err error) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.settled {
		return false
	}
	g.settled = true
	g.err = err
	close(g.done)
	return true
}

// wait blocks until the gate settles or ctx is done.
func (g *gate) wait(ctx context.Context) error {
	select {
	case <-g.done:
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// outbound is one queued post. id < 0 means no popup-pending bookkeeping.
type outbound struct {
	id   int64
	data []byte
}

// sendQueue serializes posts to one channel in submission order.
type sendQueue struct {
	mu     sync.Mutex
	items  []outbound
	wake   chan struct{}
	closed bool
}

func newSendQueue() *sendQueue {
	return &sendQueue{wake: make(chan struct{}, 1)}
}

func (q *sendQueue) push(o outbound) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, o)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// next blocks until an item is available or the queue closes.
func (q *sendQueue) next() (outbound, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			o := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return o, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return outbound{}, false
		}
		<-q.wake
	}
}

func (q *sendQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// channel is one controller: the endpoint handle, the readiness gate, and
// the FIFO send queue. Controllers are replaced, never reused, on each
// (re)open.
type channel struct {
	kind     string
	endpoint host.Endpoint
	ready    *gate
	queue    *sendQueue
	stopLive chan struct{}
}

func newChannel(kind string, ep host.Endpoint) *channel {
	return &channel{
		kind:     kind,
		endpoint: ep,
		ready:    newGate(),
		queue:    newSendQueue(),
	}
}

// run drains the send queue. Each item waits for channel readiness before
// posting; failures are logged and swallowed, since request correctness
// rides on the caller's timeout.
func (ch *channel) run(b *Bridge) {
	for {
		o, ok := ch.queue.next()
		if !ok {
			return
		}
		if err := ch.ready.wait(context.Background()); err != nil {
			slog.Debug("dropping queued message", "channel", ch.kind, "err", err)
			continue
		}
		if o.id >= 0 {
			b.requests.markPopup(o.id)
		}
		ctx, cancel := context.WithTimeout(context.Background(), postTimeout)
		err := ch.endpoint.Post(ctx, o.data, b.origin)
		cancel()
		if err != nil {
			slog.Debug("post failed", "channel", ch.kind, "err", err)
		}
	}
}

// teardown rejects an unsettled readiness gate, closes the queue so the
// worker exits, and cancels the liveness poll.
func (ch *channel) teardown() {
	ch.ready.fail(ErrChannelClosed)
	ch.queue.close()
	if ch.stopLive != nil {
		close(ch.stopLive)
		ch.stopLive = nil
	}
}

// openPopupLocked opens or focuses the popup; b.mu must be held. Without
// force, the usePopup policy gates creation. Returns the live popup
// channel, or nil when policy forbids one.
func (b *Bridge) openPopupLocked(force bool) *channel {
	if b.closed {
		return nil
	}
	if b.popup != nil && !b.popup.endpoint.Closed() {
		if err := b.popup.endpoint.Focus(); err != nil {
			slog.Debug("popup focus", "err", err)
		}
		return b.popup
	}
	if !force && !b.usePopup {
		return nil
	}
	// Replace the controller wholesale. A predecessor's unsettled ready
	// gate is rejected, never orphaned.
	if b.popup != nil {
		b.popup.teardown()
		b.popup = nil
	}
	ep, err := b.host.OpenPopup(context.Background(), b.url.String())
	if err != nil {
		slog.Warn("open popup failed", "err", err)
		return nil
	}
	ch := newChannel(kindPopup, ep)
	ch.stopLive = make(chan struct{})
	b.popup = ch
	go ch.run(b)
	go b.watchPopup(ch, ch.stopLive)
	slog.Info("popup channel opened")
	return ch
}

// closePopup tears the popup down. Keep-alive wins over a non-forced close.
func (b *Bridge) closePopup(force bool) {
	b.mu.Lock()
	ch := b.popup
	if ch == nil {
		b.mu.Unlock()
		return
	}
	if !force && b.keepPopup {
		b.mu.Unlock()
		return
	}
	b.popup = nil
	b.mu.Unlock()

	if err := ch.endpoint.Navigate(inertPage); err != nil {
		slog.Debug("popup navigate on close", "err", err)
	}
	if err := ch.endpoint.Close(); err != nil {
		slog.Debug("popup close", "err", err)
	}
	ch.teardown()
	slog.Info("popup channel closed")
}

// watchPopup polls the popup endpoint until the user closes it, then drops
// the keep-alive policy the way an explicit SetKeepPopup(false) would. The
// poll is cancelled through stop when the channel is torn down first.
func (b *Bridge) watchPopup(ch *channel, stop <-chan struct{}) {
	ticker := time.NewTicker(b.popupPoll)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		if ch.endpoint.Closed() {
			slog.Info("popup closed by user")
			b.SetKeepPopup(false)
			return
		}
	}
}

// scheduleAutoClose arms the delayed check that closes a popup once no
// popup-bound request remains pending.
func (b *Bridge) scheduleAutoClose() {
	time.AfterFunc(b.autoCloseDelay, func() {
		if b.requests.popupIdle() {
			b.closePopup(false)
		}
	})
}
