package sockethost

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/DougAnderson444/ArweaveWalletConnector/host"
)

const walletOrigin = "https://arweave.app"

func startHost(t *testing.T) (*Host, chan host.Message) {
	t.Helper()
	h := New(Config{Addr: "127.0.0.1:0", PingInterval: time.Minute, NoBrowser: true})
	if err := h.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(h.Stop)

	inbox := make(chan host.Message, 8)
	if _, err := h.Listen(func(m host.Message) { inbox <- m }); err != nil {
		t.Fatalf("listen: %v", err)
	}
	return h, inbox
}

func connectURL(t *testing.T, ep host.Endpoint) string {
	t.Helper()
	cu, ok := ep.(interface{ ConnectURL() string })
	if !ok {
		t.Fatal("endpoint does not expose a connect url")
	}
	return cu.ConnectURL()
}

func dialEndpoint(t *testing.T, ep host.Endpoint, origin string) net.Conn {
	t.Helper()
	d := ws.Dialer{Header: ws.HandshakeHeaderHTTP(http.Header{"Origin": []string{origin}})}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, _, err := d.Dial(ctx, connectURL(t, ep))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestInboundForwardedWithOrigin(t *testing.T) {
	h, inbox := startHost(t)
	ep, err := h.OpenEmbedded(context.Background(), walletOrigin)
	if err != nil {
		t.Fatalf("open embedded: %v", err)
	}
	conn := dialEndpoint(t, ep, walletOrigin)

	payload := []byte(`{"method":"connect","params":["addr"],"jsonrpc":"2.0"}`)
	if err := wsutil.WriteClientMessage(conn, ws.OpText, payload); err != nil {
		t.Fatalf("client write: %v", err)
	}

	select {
	case m := <-inbox:
		if m.Origin != walletOrigin {
			t.Errorf("origin = %q, want %q", m.Origin, walletOrigin)
		}
		if string(m.Data) != string(payload) {
			t.Errorf("data = %s", m.Data)
		}
		if m.Source != ep {
			t.Error("message not attributed to its endpoint")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wallet message never reached the listener")
	}
}

func TestPostRoundTrip(t *testing.T) {
	h, _ := startHost(t)
	ep, err := h.OpenPopup(context.Background(), walletOrigin)
	if err != nil {
		t.Fatalf("open popup: %v", err)
	}
	conn := dialEndpoint(t, ep, walletOrigin)
	waitFor(t, 2*time.Second, func() bool {
		return ep.(*wsEndpoint).peerOrigin() != ""
	}, "client never attached")

	payload := []byte(`{"method":"sign","id":0,"jsonrpc":"2.0"}`)
	if err := ep.Post(context.Background(), payload, walletOrigin); err != nil {
		t.Fatalf("post: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, op, err := wsutil.ReadServerData(conn)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if op != ws.OpText {
		t.Errorf("opcode = %v, want text", op)
	}
	if string(data) != string(payload) {
		t.Errorf("data = %s", data)
	}
}

func TestPostRefusesOriginMismatch(t *testing.T) {
	h, _ := startHost(t)
	ep, err := h.OpenEmbedded(context.Background(), walletOrigin)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	dialEndpoint(t, ep, walletOrigin)
	waitFor(t, 2*time.Second, func() bool {
		return ep.(*wsEndpoint).peerOrigin() != ""
	}, "client never attached")

	if err := ep.Post(context.Background(), []byte(`{}`), "https://evil.example"); err == nil {
		t.Fatal("post to mismatched origin accepted")
	}
}

func TestPostBeforeClaimFails(t *testing.T) {
	h, _ := startHost(t)
	ep, err := h.OpenEmbedded(context.Background(), walletOrigin)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := ep.Post(context.Background(), []byte(`{}`), walletOrigin); err == nil {
		t.Fatal("post before a client claimed the ticket accepted")
	}
}

func TestUnknownTicketRejected(t *testing.T) {
	h, _ := startHost(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, _, err := ws.Dial(ctx, "ws://"+h.Addr()+defaultPath+"?ticket=nope")
	if err == nil {
		t.Fatal("handshake with unknown ticket succeeded")
	}
}

func TestTicketIsSingleUse(t *testing.T) {
	h, _ := startHost(t)
	ep, err := h.OpenEmbedded(context.Background(), walletOrigin)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	url := connectURL(t, ep)
	dialEndpoint(t, ep, walletOrigin)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, _, err := ws.Dial(ctx, url); err == nil {
		t.Fatal("second claim of the same ticket succeeded")
	}
}

func TestClientDisconnectMarksClosed(t *testing.T) {
	h, _ := startHost(t)
	ep, err := h.OpenEmbedded(context.Background(), walletOrigin)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	conn := dialEndpoint(t, ep, walletOrigin)
	if ep.Closed() {
		t.Fatal("endpoint closed while connected")
	}

	conn.Close()
	waitFor(t, 2*time.Second, ep.Closed, "endpoint never noticed the disconnect")
}

func TestCloseTerminatesClient(t *testing.T) {
	h, _ := startHost(t)
	ep, err := h.OpenPopup(context.Background(), walletOrigin)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	conn := dialEndpoint(t, ep, walletOrigin)

	if err := ep.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !ep.Closed() {
		t.Fatal("endpoint not marked closed")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := wsutil.ReadServerData(conn); err != nil {
			return
		}
	}
}

func TestDialBackURLKeepsFragment(t *testing.T) {
	got, err := dialBackURL("https://arweave.app/#%7B%22session%22%3A%22abc%22%7D", "ws://127.0.0.1:9787/bridge?ticket=t1&kind=embedded")
	if err != nil {
		t.Fatalf("dialBackURL: %v", err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if u.Fragment != `{"session":"abc"}` {
		t.Errorf("fragment lost: %q", u.Fragment)
	}
	if q := u.Query().Get("awcBridge"); q != "ws://127.0.0.1:9787/bridge?ticket=t1&kind=embedded" {
		t.Errorf("dial-back query = %q", q)
	}
}

func TestDialBackURLKeepsExistingQuery(t *testing.T) {
	got, err := dialBackURL("https://arweave.app/?theme=dark", "ws://127.0.0.1:9787/bridge?ticket=t2&kind=popup")
	if err != nil {
		t.Fatalf("dialBackURL: %v", err)
	}
	u, _ := url.Parse(got)
	if u.Query().Get("theme") != "dark" {
		t.Errorf("existing query dropped: %s", got)
	}
	if u.Query().Get("awcBridge") == "" {
		t.Errorf("dial-back missing: %s", got)
	}
}
