package chromehost

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	cdp "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/mailru/easyjson"

	"github.com/DougAnderson444/ArweaveWalletConnector/host"
)

const (
	bindingName = "__awcEmit"
	deliverFunc = "__awcDeliver"

	// inboxSize bounds how far the page can run ahead of the consumer
	// before messages are dropped.
	inboxSize = 256

	targetOpTimeout = 5 * time.Second
)

// messagingShim runs before any wallet script. The wallet talks to its
// host window through opener/parent postMessage; both are replaced with a
// relay that funnels outbound traffic into the CDP binding. Inbound
// traffic is replayed as ordinary message events with the relay as
// source, so reply-via-event-source keeps working.
//
//go:embed shim.js
var messagingShim string

// pageEnvelope is what the shim emits through the binding.
type pageEnvelope struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

// tabEndpoint is one wallet tab or window.
type tabEndpoint struct {
	h      *Host
	ctx    context.Context
	cancel context.CancelFunc
	id     target.ID
	kind   string

	inbox  chan string
	closed atomic.Bool
}

var _ host.Endpoint = (*tabEndpoint)(nil)

func (h *Host) openTab(ctx context.Context, url string, popup bool) (host.Endpoint, error) {
	kind := "embedded"
	var (
		tctx    context.Context
		tcancel context.CancelFunc
		tid     target.ID
	)

	if popup {
		kind = "popup"
		createCtx, createCancel := context.WithTimeout(h.browserCtx, targetOpTimeout)
		id, err := target.CreateTarget("about:blank").
			WithNewWindow(true).
			WithWidth(int64(h.cfg.PopupWidth)).
			WithHeight(int64(h.cfg.PopupHeight)).
			Do(cdp.WithExecutor(createCtx, chromedp.FromContext(createCtx).Browser))
		createCancel()
		if err != nil {
			return nil, fmt.Errorf("create popup window: %w", err)
		}
		tid = id
		tctx, tcancel = chromedp.NewContext(h.browserCtx, chromedp.WithTargetID(tid))
	} else {
		tctx, tcancel = chromedp.NewContext(h.browserCtx)
	}

	ep := &tabEndpoint{
		h:      h,
		ctx:    tctx,
		cancel: tcancel,
		id:     tid,
		kind:   kind,
		inbox:  make(chan string, inboxSize),
	}

	// Register before navigation so no wallet message can slip past.
	chromedp.ListenTarget(tctx, ep.onTargetEvent)

	err := chromedp.Run(tctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(messagingShim).Do(ctx); err != nil {
				return fmt.Errorf("install shim: %w", err)
			}
			if err := runtime.AddBinding(bindingName).Do(ctx); err != nil {
				return fmt.Errorf("add binding: %w", err)
			}
			return runtime.Enable().Do(ctx)
		}),
	)
	if err != nil {
		tcancel()
		return nil, fmt.Errorf("%s tab setup: %w", kind, err)
	}
	if ep.id == "" {
		ep.id = chromedp.FromContext(tctx).Target.TargetID
	}

	go ep.pump()

	if err := ep.Navigate(url); err != nil {
		ep.closed.Store(true)
		tcancel()
		return nil, fmt.Errorf("%s tab: %w", kind, err)
	}
	if popup {
		if err := ep.Focus(); err != nil {
			slog.Debug("popup focus", "err", err)
		}
	}

	slog.Info("wallet tab opened", "kind", kind, "target", ep.id)
	return ep, nil
}

// onTargetEvent runs on the CDP event loop and must never block.
func (e *tabEndpoint) onTargetEvent(ev interface{}) {
	bc, ok := ev.(*runtime.EventBindingCalled)
	if !ok || bc.Name != bindingName {
		return
	}
	select {
	case e.inbox <- bc.Payload:
	default:
		slog.Warn("wallet message dropped, inbox full", "kind", e.kind)
	}
}

// pump decodes binding payloads and hands them to the host listener.
func (e *tabEndpoint) pump() {
	for {
		select {
		case <-e.ctx.Done():
			e.closed.Store(true)
			return
		case payload := <-e.inbox:
			var env pageEnvelope
			if err := json.Unmarshal([]byte(payload), &env); err != nil {
				slog.Debug("undecodable wallet payload", "kind", e.kind, "err", err)
				continue
			}
			e.h.dispatch(host.Message{Source: e, Origin: env.Origin, Data: env.Data})
		}
	}
}

// runCtx derives an action context from the tab, carrying over the
// caller's deadline when it has one.
func (e *tabEndpoint) runCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if d, ok := ctx.Deadline(); ok {
		return context.WithDeadline(e.ctx, d)
	}
	return context.WithCancel(e.ctx)
}

// Post replays data as a message event inside the wallet page.
func (e *tabEndpoint) Post(ctx context.Context, data []byte, targetOrigin string) error {
	if e.Closed() {
		return fmt.Errorf("%s tab closed", e.kind)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := e.runCtx(ctx)
	defer cancel()

	expr := fmt.Sprintf("window.%s(%s, %q)", deliverFunc, data, targetOrigin)
	if err := chromedp.Run(runCtx, chromedp.Evaluate(expr, nil)); err != nil {
		return fmt.Errorf("post to %s tab: %w", e.kind, err)
	}
	return nil
}

// Navigate fires Page.navigate without waiting for the load event; wallet
// pages are SPAs and announce themselves over the channel instead.
func (e *tabEndpoint) Navigate(url string) error {
	return chromedp.Run(e.ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			p, _ := json.Marshal(map[string]any{"url": url})
			params := easyjson.RawMessage(p)
			var navResult easyjson.RawMessage
			if err := chromedp.FromContext(ctx).Target.Execute(ctx, "Page.navigate", &params, &navResult); err != nil {
				return fmt.Errorf("page.navigate: %w", err)
			}
			var resp struct {
				ErrorText string `json:"errorText"`
			}
			if err := json.Unmarshal(navResult, &resp); err == nil && resp.ErrorText != "" {
				return fmt.Errorf("navigate: %s", resp.ErrorText)
			}
			return nil
		}),
		chromedp.Sleep(500*time.Millisecond),
	)
}

func (e *tabEndpoint) Focus() error {
	return chromedp.Run(e.ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return page.BringToFront().Do(ctx)
		}),
	)
}

func (e *tabEndpoint) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.cancel()

	closeCtx, closeCancel := context.WithTimeout(e.h.browserCtx, targetOpTimeout)
	defer closeCancel()
	if err := target.CloseTarget(e.id).Do(cdp.WithExecutor(closeCtx, chromedp.FromContext(closeCtx).Browser)); err != nil {
		slog.Debug("close target", "target", e.id, "err", err)
	}
	slog.Info("wallet tab closed", "kind", e.kind, "target", e.id)
	return nil
}

func (e *tabEndpoint) Closed() bool {
	return e.closed.Load() || e.ctx.Err() != nil
}
