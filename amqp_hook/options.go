package amqphook

// Option configures a Hook.
type Option func(*Hook)

// PayloadFunc builds a custom event payload for a specific event type.
// The args parameter is the default payload the hook would have sent
// and the returned value replaces it inside the message envelope.
type PayloadFunc func(args any) (any, error)

// WithEvents restricts the hook to publish only the listed event types.
// By default all 7 event types are published. Unknown types are
// silently ignored.
func WithEvents(events ...string) Option {
	return func(h *Hook) {
		h.enabled = make(map[string]bool, len(events))
		for _, e := range events {
			h.enabled[e] = true
		}
	}
}

// WithPayloadFunc registers a custom payload builder for the given
// event type. The function replaces the default payload for that event.
func WithPayloadFunc(eventType string, fn PayloadFunc) Option {
	return func(h *Hook) {
		if h.payloads == nil {
			h.payloads = make(map[string]PayloadFunc)
		}
		h.payloads[eventType] = fn
	}
}
