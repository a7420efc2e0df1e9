// Package host defines the windowing and messaging substrate the connector
// drives. An implementation owns browsing contexts pointed at the wallet URL
// and relays origin-tagged messages in both directions.
package host

import "context"

// Endpoint is a handle to one remote browsing context.
type Endpoint interface {
	// Post delivers a structured message to the context, scoped to
	// targetOrigin the way window.postMessage scopes delivery.
	Post(ctx context.Context, data []byte, targetOrigin string) error

	// Focus raises the context, where the substrate supports it.
	Focus() error

	// Navigate points the context at a new URL.
	Navigate(url string) error

	// Close tears the context down.
	Close() error

	// Closed reports whether the context has gone away, including closure
	// by the user.
	Closed() bool
}

// Message is one inbound payload, tagged with the endpoint it arrived
// through and the origin that sent it.
type Message struct {
	Source Endpoint
	Origin string
	Data   []byte
}

// Host opens browsing contexts and delivers inbound messages.
type Host interface {
	// OpenEmbedded creates the always-present, non-visible context and
	// begins loading the given URL.
	OpenEmbedded(ctx context.Context, url string) (Endpoint, error)

	// OpenPopup creates a user-visible window loading the given URL.
	OpenPopup(ctx context.Context, url string) (Endpoint, error)

	// Listen registers the inbound message sink and returns the function
	// that unregisters it.
	Listen(fn func(Message)) (func(), error)
}
