package bridges

import (
	"sync"

	"github.com/koscakluka/ema-graph/core/events"
)

type envelope struct {
	event    events.Event
	finished *task
}

// mailbox is an unbounded queue drained by a single bridge worker. Pushing
// never blocks, so a generation task may publish into the bridge that is
// waiting on it.
type mailbox struct {
	mu           sync.Mutex
	items        []envelope
	head         int
	closed       bool
	updateSignal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		updateSignal: make(chan struct{}, 1),
	}
}

func (m *mailbox) push(item envelope) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, item)
	m.mu.Unlock()
	m.signalUpdate()
	return true
}

// Items yields queued items in order until the mailbox is closed. Items still
// queued at close are discarded.
func (m *mailbox) Items(yield func(envelope) bool) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}

		if m.head < len(m.items) {
			item := m.items[m.head]
			m.items[m.head] = envelope{}
			m.head++
			if m.head == len(m.items) {
				m.items = m.items[:0]
				m.head = 0
			}
			m.mu.Unlock()
			if !yield(item) {
				return
			}
			continue
		}

		m.mu.Unlock()
		<-m.updateSignal
	}
}

func (m *mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items) - m.head
}

func (m *mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.items = nil
	m.head = 0
	m.mu.Unlock()
	m.signalUpdate()
}

func (m *mailbox) signalUpdate() {
	select {
	case m.updateSignal <- struct{}{}:
	default:
	}
}
