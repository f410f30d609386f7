package emit

import "sync"

// BufferedEmitter stores events in memory, organized by run ID.
//
// Intended for tests and debugging: run a workflow, then inspect the exact
// event sequence it produced. All events are held in memory, so long-running
// production deployments should prefer LogEmitter or OTelEmitter.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit appends the event to its run's history.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// History returns the run's events in emission order. The slice is a copy.
func (b *BufferedEmitter) History(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[runID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// HistoryByMsg returns the run's events matching one message type, in
// emission order.
func (b *BufferedEmitter) HistoryByMsg(runID, msg string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, ev := range b.events[runID] {
		if ev.Msg == msg {
			out = append(out, ev)
		}
	}
	return out
}

// Clear removes the run's buffered events.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, runID)
}
