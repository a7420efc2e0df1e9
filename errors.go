package connector

import "errors"

var (
	// ErrNoTargetURL means delivery was attempted with no wallet URL
	// configured.
	ErrNoTargetURL = errors.New("missing wallet url")

	// ErrUnknownReply means the wallet answered an id with no live request.
	ErrUnknownReply = errors.New("reply to nonexistent request")

	// ErrTimeout rejects a request whose reply did not arrive in time.
	ErrTimeout = errors.New("request timed out")

	// ErrChannelClosed rejects a readiness wait when its channel goes away
	// first.
	ErrChannelClosed = errors.New("channel closed")

	// ErrDisconnected reports use of a connector after Disconnect.
	ErrDisconnected = errors.New("connector disconnected")

	// ErrPending is returned by Call.Result before settlement.
	ErrPending = errors.New("request still pending")
)
