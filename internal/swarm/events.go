package swarm

import (
	"sync"
	"time"
)

// EventType labels a pipeline event.
type EventType string

const (
	EventStateChange EventType = "state_change"
	EventProposals   EventType = "proposals"
	EventReview      EventType = "review"
	EventDecision    EventType = "decision"
	EventAborted     EventType = "aborted"
	EventDone        EventType = "done"
)

// Event is an immutable observation of pipeline progress. Observers
// receive copies; nothing in an Event aliases pipeline state.
type Event struct {
	TaskID  string    `json:"task_id"`
	Type    EventType `json:"type"`
	State   State     `json:"state"`
	Round   int       `json:"round"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Broadcaster fans pipeline events out to subscribers. Slow subscribers
// lose events rather than stalling the pipeline.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

// Subscribe returns a buffered event channel and a cancel func. The
// channel is closed on cancel.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber without blocking.
func (b *Broadcaster) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
