package conversations

import (
	"iter"
	"slices"

	"github.com/koscakluka/ema-graph/core/events"
)

// Snapshot is an immutable, ordered view of a context at one point in time.
// The zero value is an empty snapshot.
type Snapshot struct {
	events []events.Event
}

// NewSnapshot builds a snapshot from the given events. The slice is copied.
func NewSnapshot(evts ...events.Event) Snapshot {
	return Snapshot{events: slices.Clone(evts)}
}

func (s Snapshot) Len() int {
	return len(s.events)
}

// At returns the i-th event, oldest first.
func (s Snapshot) At(i int) events.Event {
	return s.events[i]
}

// All iterates the events oldest to newest.
func (s Snapshot) All() iter.Seq[events.Event] {
	return func(yield func(events.Event) bool) {
		for _, event := range s.events {
			if !yield(event) {
				return
			}
		}
	}
}

// Backward iterates the events newest to oldest.
func (s Snapshot) Backward() iter.Seq[events.Event] {
	return func(yield func(events.Event) bool) {
		for i := len(s.events) - 1; i >= 0; i-- {
			if !yield(s.events[i]) {
				return
			}
		}
	}
}

// Events returns a copy of the events.
func (s Snapshot) Events() []events.Event {
	return slices.Clone(s.events)
}

func (s Snapshot) LatestOf(kind events.Kind) (events.Event, bool) {
	return latestOf(s.events, kind)
}

func (s Snapshot) LatestUserTranscript() string {
	return latestUserTranscript(s.events)
}

// Filter returns a snapshot holding only the events for which keep is true.
func (s Snapshot) Filter(keep func(events.Event) bool) Snapshot {
	filtered := make([]events.Event, 0, len(s.events))
	for _, event := range s.events {
		if keep(event) {
			filtered = append(filtered, event)
		}
	}
	return Snapshot{events: filtered}
}

// TextOnly keeps user transcripts and agent responses, the view used to build
// model input.
func (s Snapshot) TextOnly() Snapshot {
	return s.Filter(events.IsText)
}

// Kinds keeps only events of the given kinds.
func (s Snapshot) Kinds(kinds ...events.Kind) Snapshot {
	return s.Filter(func(event events.Event) bool {
		return slices.Contains(kinds, event.Kind())
	})
}
