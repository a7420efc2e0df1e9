package sockethost

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/DougAnderson444/ArweaveWalletConnector/host"
)

// wsEndpoint is one wallet connection slot. It exists before the client
// claims its ticket; Post fails until then.
type wsEndpoint struct {
	h      *Host
	kind   string
	ticket string
	done   chan struct{}

	mu     sync.Mutex
	conn   net.Conn
	origin string
	closed bool

	// wmu serializes frame writes; control pings and posts share the conn.
	wmu sync.Mutex
}

var _ host.Endpoint = (*wsEndpoint)(nil)

// ConnectURL is the address a wallet client uses to claim this endpoint.
func (e *wsEndpoint) ConnectURL() string {
	return fmt.Sprintf("ws://%s%s?ticket=%s&kind=%s", e.h.Addr(), e.h.cfg.Path, e.ticket, e.kind)
}

// attach binds the claimed ticket to its connection and starts the read
// and keepalive pumps.
func (e *wsEndpoint) attach(conn net.Conn, origin string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("endpoint already closed")
	}
	if e.conn != nil {
		return fmt.Errorf("ticket already claimed")
	}
	e.conn = conn
	e.origin = origin

	go e.readPump(conn)
	go e.pingLoop(conn)
	return nil
}

// readPump forwards wallet frames to the host listener until the
// connection drops.
func (e *wsEndpoint) readPump(conn net.Conn) {
	for {
		data, _, err := wsutil.ReadClientData(conn)
		if err != nil {
			e.detach()
			return
		}
		e.h.dispatch(host.Message{Source: e, Origin: e.peerOrigin(), Data: data})
	}
}

// pingLoop keeps idle connections alive through proxies.
func (e *wsEndpoint) pingLoop(conn net.Conn) {
	ticker := time.NewTicker(e.h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
		}
		e.wmu.Lock()
		err := wsutil.WriteServerMessage(conn, ws.OpPing, nil)
		e.wmu.Unlock()
		if err != nil {
			e.detach()
			return
		}
	}
}

func (e *wsEndpoint) peerOrigin() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.origin
}

// detach marks the endpoint dead after the peer went away.
func (e *wsEndpoint) detach() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	conn := e.conn
	e.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	close(e.done)
	e.h.forget(e.ticket)
	slog.Info("wallet disconnected", "kind", e.kind)
}

// Post sends one message frame. The connection is origin-pinned at
// attach time, so a target origin that does not match means the wrong
// page claimed the ticket.
func (e *wsEndpoint) Post(ctx context.Context, data []byte, targetOrigin string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	conn, origin, closed := e.conn, e.origin, e.closed
	e.mu.Unlock()

	if closed {
		return fmt.Errorf("%s endpoint closed", e.kind)
	}
	if conn == nil {
		return fmt.Errorf("%s endpoint not connected", e.kind)
	}
	if targetOrigin != "*" && origin != "" && origin != targetOrigin {
		return fmt.Errorf("refusing post to origin %q, peer is %q", targetOrigin, origin)
	}

	e.wmu.Lock()
	defer e.wmu.Unlock()
	if err := wsutil.WriteServerMessage(conn, ws.OpText, data); err != nil {
		return fmt.Errorf("post to %s endpoint: %w", e.kind, err)
	}
	return nil
}

// Focus is meaningless for a remote page.
func (e *wsEndpoint) Focus() error {
	slog.Debug("focus ignored for socket endpoint", "kind", e.kind)
	return nil
}

// Navigate is advisory only; the remote client owns its location.
func (e *wsEndpoint) Navigate(url string) error {
	slog.Debug("navigate ignored for socket endpoint", "kind", e.kind, "url", url)
	return nil
}

// Close sends a close frame when connected and retires the ticket.
func (e *wsEndpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	conn := e.conn
	e.mu.Unlock()

	if conn != nil {
		e.wmu.Lock()
		_ = wsutil.WriteServerMessage(conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		e.wmu.Unlock()
		conn.Close()
	}
	close(e.done)
	e.h.forget(e.ticket)
	slog.Info("endpoint closed", "kind", e.kind)
	return nil
}

func (e *wsEndpoint) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
