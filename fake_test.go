package connector

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/DougAnderson444/ArweaveWalletConnector/event"
	"github.com/DougAnderson444/ArweaveWalletConnector/host"
)

const walletOrigin = "https://wallet.example"

// fakeEndpoint records everything posted to one simulated browsing context.
type fakeEndpoint struct {
	mu       sync.Mutex
	name     string
	posts    [][]byte
	navs     []string
	focused  int
	closed   bool
	postHook func([]byte)
}

func (e *fakeEndpoint) Post(_ context.Context, data []byte, _ string) error {
	e.mu.Lock()
	cp := append([]byte(nil), data...)
	e.posts = append(e.posts, cp)
	hook := e.postHook
	e.mu.Unlock()
	if hook != nil {
		hook(cp)
	}
	return nil
}

func (e *fakeEndpoint) Focus() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.focused++
	return nil
}

func (e *fakeEndpoint) Navigate(u string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.navs = append(e.navs, u)
	return nil
}

func (e *fakeEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEndpoint) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// userClose simulates the user dismissing the window out from under us.
func (e *fakeEndpoint) userClose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

func (e *fakeEndpoint) setPostHook(fn func([]byte)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.postHook = fn
}

func (e *fakeEndpoint) postCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.posts)
}

func (e *fakeEndpoint) post(t *testing.T, i int) map[string]any {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	if i >= len(e.posts) {
		t.Fatalf("post %d not recorded, have %d", i, len(e.posts))
	}
	var obj map[string]any
	if err := json.Unmarshal(e.posts[i], &obj); err != nil {
		t.Fatalf("recorded post %d is not json: %v", i, err)
	}
	return obj
}

func (e *fakeEndpoint) focusCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.focused
}

// fakeHost hands out fake endpoints and lets tests inject inbound traffic.
type fakeHost struct {
	mu       sync.Mutex
	listener func(host.Message)
	embedded []*fakeEndpoint
	popups   []*fakeEndpoint
	popupErr error
}

func (h *fakeHost) OpenEmbedded(_ context.Context, _ string) (host.Endpoint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ep := &fakeEndpoint{name: "embedded"}
	h.embedded = append(h.embedded, ep)
	return ep, nil
}

func (h *fakeHost) OpenPopup(_ context.Context, _ string) (host.Endpoint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.popupErr != nil {
		return nil, h.popupErr
	}
	ep := &fakeEndpoint{name: "popup"}
	h.popups = append(h.popups, ep)
	return ep, nil
}

func (h *fakeHost) Listen(fn func(host.Message)) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listener = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.listener = nil
	}, nil
}

func (h *fakeHost) listening() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listener != nil
}

// inject delivers one inbound payload as if the substrate received it.
func (h *fakeHost) inject(t *testing.T, ep host.Endpoint, origin string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal inject payload: %v", err)
	}
	h.mu.Lock()
	fn := h.listener
	h.mu.Unlock()
	if fn == nil {
		t.Fatal("no listener registered")
	}
	fn(host.Message{Source: ep, Origin: origin, Data: data})
}

func (h *fakeHost) lastEmbedded() *fakeEndpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.embedded) == 0 {
		return nil
	}
	return h.embedded[len(h.embedded)-1]
}

func (h *fakeHost) lastPopup() *fakeEndpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.popups) == 0 {
		return nil
	}
	return h.popups[len(h.popups)-1]
}

func (h *fakeHost) popupCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.popups)
}

// recorder is an Emitter capturing every published event.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) builtins() []BuiltinEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []BuiltinEvent
	for _, e := range r.events {
		if be, ok := e.(BuiltinEvent); ok {
			out = append(out, be)
		}
	}
	return out
}

func (r *recorder) messages() []MessageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []MessageEvent
	for _, e := range r.events {
		if me, ok := e.(MessageEvent); ok {
			out = append(out, me)
		}
	}
	return out
}

func newTestBridge(t *testing.T, opts ...Option) (*Bridge, *fakeHost, *recorder) {
	t.Helper()
	h := &fakeHost{}
	rec := &recorder{}
	all := append([]Option{
		WithHost(h),
		WithEmitter(rec),
		WithOrigin("https://app.example"),
		WithPopupPollInterval(5 * time.Millisecond),
		WithAutoCloseDelay(5 * time.Millisecond),
	}, opts...)
	b, err := New(context.Background(), walletOrigin+"/connect", all...)
	if err != nil {
		t.Fatalf("new connector: %v", err)
	}
	t.Cleanup(b.Disconnect)
	return b, h, rec
}

// readyEmbedded makes the embedded channel announce itself.
func readyEmbedded(t *testing.T, b *Bridge, h *fakeHost) {
	t.Helper()
	h.inject(t, h.lastEmbedded(), walletOrigin, map[string]any{"method": "ready"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.Ready(ctx); err != nil {
		t.Fatalf("embedded channel never became ready: %v", err)
	}
}

func popupLive(b *Bridge) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.popup != nil
}

func currentPopup(b *Bridge) *channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.popup
}

// waitFor polls cond until it holds or the deadline passes.
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
