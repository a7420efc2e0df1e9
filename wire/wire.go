// Package wire defines the JSON-RPC flavored envelope exchanged with the
// wallet page and the validation helpers used by the inbound message gate.
package wire

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Version is the protocol tag stamped on every outbound request.
const Version = "2.0"

// Reserved methods consumed by the connector itself.
const (
	MethodReady  = "ready"
	MethodChange = "change"
)

// Verified methods that mutate connector policy before being republished.
const (
	MethodUsePopup  = "usePopup"
	MethodKeepPopup = "keepPopup"
)

// Request is the outbound envelope. ID is assigned by the request table.
type Request struct {
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      *int64 `json:"id,omitempty"`
	JSONRPC string `json:"jsonrpc"`
}

// Reply is the inbound settlement envelope for a single request id.
type Reply struct {
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
	JSONRPC string          `json:"jsonrpc,omitempty"`
}

// Notification is an unsolicited wallet message republished to subscribers.
type Notification struct {
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	Session any    `json:"session,omitempty"`
}

// IsReplyID reports whether a decoded id field is numeric or a numeric
// string. Messages carrying any other id type are dropped wholesale.
func IsReplyID(v any) bool {
	switch n := v.(type) {
	case float64:
		return true
	case json.Number:
		_, err := strconv.ParseFloat(n.String(), 64)
		return err == nil
	case string:
		_, err := strconv.ParseFloat(n, 64)
		return err == nil
	default:
		return false
	}
}

// ReplyID coerces a decoded id field to the exact integer used for table
// lookup. Numeric but non-integral ids (7.5, "7.5") fail coercion and are
// treated as replies to requests that never existed.
func ReplyID(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

// CheckNotification validates the {method, params, session} shape of an
// inbound notification. Params may be anything, including absent.
func CheckNotification(obj map[string]any) error {
	m, ok := obj["method"].(string)
	if !ok || m == "" {
		return fmt.Errorf("method must be a non-empty string")
	}
	switch obj["session"].(type) {
	case nil, string, float64, json.Number:
		return nil
	default:
		return fmt.Errorf("session must be a number or string")
	}
}

// RemoteError is the error value a wallet reply carried in its error field.
type RemoteError struct {
	Code    int64
	Message string
	Raw     json.RawMessage
}

// ParseRemoteError decodes a reply error value, keeping the raw form for
// callers that need the full payload.
func ParseRemoteError(raw json.RawMessage) *RemoteError {
	e := &RemoteError{Raw: raw}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		e.Message = s
		return e
	}
	var obj struct {
		Code    int64  `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		e.Code = obj.Code
		e.Message = obj.Message
	}
	return e
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		if e.Code != 0 {
			return fmt.Sprintf("wallet error %d: %s", e.Code, e.Message)
		}
		return "wallet error: " + e.Message
	}
	return "wallet error: " + string(e.Raw)
}
