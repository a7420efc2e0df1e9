package connector

import "github.com/DougAnderson444/ArweaveWalletConnector/event"

// Event kinds published on the connector's emitter.
const (
	EventMessage = "message"
	EventBuiltin = "builtin"
)

// MessageEvent is one accepted wallet notification.
type MessageEvent struct {
	event.Base
	Method  string
	Params  any
	Session any
}

func (MessageEvent) EventType() string { return EventMessage }

// BuiltinEvent reports a policy flag change. Exactly one field is set.
type BuiltinEvent struct {
	event.Base
	UsePopup  *bool
	KeepPopup *bool
}

func (BuiltinEvent) EventType() string { return EventBuiltin }
