package events

import (
	"strings"
	"time"
)

// Kind is the routing tag of an event. Bridges subscribe to kinds, never to
// event attributes.
type Kind string

// Valid reports whether the kind can be used for routing.
func (k Kind) Valid() bool {
	return k != "" && !strings.ContainsAny(string(k), " \t\r\n")
}

func (k Kind) String() string { return string(k) }

// Event is a single immutable occurrence in a conversation.
//
// The interface is sealed by Base: every event embeds it, which keeps the set
// of variants matchable with a type switch while still allowing applications
// to declare their own event types (see Custom).
type Event interface {
	Kind() Kind
	Timestamp() time.Time

	sealed()
}

type Base struct {
	kind      Kind
	timestamp time.Time
}

func NewBase(kind Kind) Base {
	return Base{kind: kind, timestamp: time.Now()}
}

func (b Base) Kind() Kind {
	return b.kind
}

func (b Base) Timestamp() time.Time {
	return b.timestamp
}

func (Base) sealed() {}

// RebaseOption overrides the base of a constructed event, e.g. to keep the
// timestamp reported by the transport.
type RebaseOption func(*Base)

func WithTimestamp(timestamp time.Time) RebaseOption {
	return func(b *Base) {
		b.timestamp = timestamp
	}
}

func rebase(kind Kind, opts []RebaseOption) Base {
	base := NewBase(kind)
	for _, opt := range opts {
		opt(&base)
	}
	base.kind = kind
	return base
}
