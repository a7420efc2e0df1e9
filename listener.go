package connector

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/DougAnderson444/ArweaveWalletConnector/event"
	"github.com/DougAnderson444/ArweaveWalletConnector/host"
	"github.com/DougAnderson444/ArweaveWalletConnector/wire"
)

// handleMessage is the single inbound gate. Traffic failing the source,
// origin, or shape checks is dropped; only correlation violations are
// raised through the fatal handler.
func (b *Bridge) handleMessage(m host.Message) {
	b.mu.Lock()
	var from string
	switch {
	case b.embedded != nil && m.Source == b.embedded.endpoint:
		from = kindEmbedded
	case b.popup != nil && m.Source == b.popup.endpoint:
		from = kindPopup
	}
	b.mu.Unlock()
	if from == "" {
		slog.Debug("message from unknown source dropped")
		return
	}
	if m.Origin != b.origin {
		slog.Debug("message origin mismatch", "origin", m.Origin, "want", b.origin)
		return
	}

	var obj map[string]any
	if err := json.Unmarshal(m.Data, &obj); err != nil || obj == nil {
		slog.Debug("non-object payload dropped", "channel", from)
		return
	}

	if rawID, ok := obj["id"]; ok {
		b.handleReply(rawID, m.Data, from)
		return
	}

	method, ok := obj["method"].(string)
	if !ok {
		slog.Debug("payload without method dropped", "channel", from)
		return
	}

	switch method {
	case wire.MethodReady:
		b.handleReady(from)
		return
	case wire.MethodChange:
		// Reserved.
		return
	case wire.MethodUsePopup:
		v, ok := obj["params"].(bool)
		if !ok {
			slog.Warn("usePopup without boolean params dropped")
			return
		}
		b.setUsePopup(v)
	case wire.MethodKeepPopup:
		v, ok := obj["params"].(bool)
		if !ok {
			slog.Warn("keepPopup without boolean params dropped")
			return
		}
		b.applyKeepPopup(v, false)
	}

	if err := wire.CheckNotification(obj); err != nil {
		slog.Warn("malformed notification dropped", "err", err)
		return
	}
	b.emit(MessageEvent{Base: event.NewBase(), Method: method, Params: obj["params"], Session: obj["session"]})
}

// handleReply correlates a reply to its pending call. When the reply
// carries both an error and a result, the error wins.
func (b *Bridge) handleReply(rawID any, data []byte, from string) {
	if !wire.IsReplyID(rawID) {
		slog.Debug("reply id is not numeric", "channel", from)
		return
	}
	id, exact := wire.ReplyID(rawID)
	var call *Call
	live := false
	if exact {
		call, live = b.requests.live(id)
	}
	if !live {
		b.fatal(fmt.Errorf("%w: id %v", ErrUnknownReply, rawID))
		return
	}

	b.requests.unmarkPopup(id)

	var env struct {
		Result json.RawMessage `json:"result"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Debug("reply envelope decode failed", "id", id, "err", err)
		return
	}
	if len(env.Error) > 0 && string(env.Error) != "null" {
		call.settle(nil, wire.ParseRemoteError(env.Error))
		return
	}
	if len(env.Result) > 0 {
		call.settle(env.Result, nil)
		return
	}
	slog.Debug("reply carries neither result nor error", "id", id)
}

// handleReady settles the announcing channel's readiness gate. A popup
// ready also resets popup-pending bookkeeping left over from a previous
// popup instance.
func (b *Bridge) handleReady(from string) {
	b.mu.Lock()
	ch := b.embedded
	if from == kindPopup {
		ch = b.popup
	}
	b.mu.Unlock()
	if ch == nil {
		return
	}
	if from == kindPopup {
		b.requests.clearPopup()
	}
	if ch.ready.resolve() {
		slog.Info("channel ready", "channel", from)
	}
}
