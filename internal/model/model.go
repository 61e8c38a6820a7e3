package model

import "context"

// EventKind identifies the page network events a handler can subscribe to.
type EventKind uint8

const (
	// EventRequest fires for every outgoing request issued by the page.
	EventRequest EventKind = iota + 1
	// EventResponse fires once a response body has finished loading.
	EventResponse
)

func (k EventKind) String() string {
	switch k {
	case EventRequest:
		return "request"
	case EventResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Event is a single network event observed on a page.
type Event struct {
	Kind      EventKind
	RequestID string
	// URL is the originating request URL.
	URL string
	// Body reads the response body text. It is nil for request events.
	Body func(ctx context.Context) (string, error)
}

// Handler receives page events. Handlers run on the browser's event loop and
// must not block.
type Handler func(Event)

