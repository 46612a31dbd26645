package events

// Custom is an application-defined event, e.g. the result of a background
// analysis node. The payload should be treated as read-only once published.
type Custom[T any] struct {
	Base
	Payload T
}

// NewCustom creates a custom event of the given kind.
func NewCustom[T any](kind Kind, payload T, opts ...RebaseOption) Custom[T] {
	return Custom[T]{Base: rebase(kind, opts), Payload: payload}
}

// PayloadValue returns the payload without its static type, for codecs.
func (c Custom[T]) PayloadValue() any { return c.Payload }
