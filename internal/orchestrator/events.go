package orchestrator

import (
	"sync"
	"time"

	"flowgate/internal/domain"
)

// EventType classifies messages emitted while a job runs.
type EventType string

const (
	// EventTypeStatus carries a state transition or poll progress update.
	EventTypeStatus EventType = "status"
	// EventTypeHeartbeat is a keep-alive emitted by the streaming gateway
	// during long polls so intermediaries do not treat the connection as
	// stalled. It is never published through the broker.
	EventTypeHeartbeat EventType = "heartbeat"
)

// Event is one entry in the ordered sequence a subscriber observes for a job.
type Event struct {
	JobID     string          `json:"job_id"`
	Type      EventType       `json:"type"`
	State     domain.JobState `json:"state,omitempty"`
	Attempt   int             `json:"attempt,omitempty"`
	URL       string          `json:"url,omitempty"`
	Failure   *domain.Failure `json:"failure,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

const subscriberBuffer = 32

// Broker fans job events out to any number of independent subscribers keyed
// by job id. Publishing never blocks: a subscriber that falls more than
// subscriberBuffer events behind loses intermediate progress updates, but the
// terminal outcome is always observable because the job channel is closed on
// terminal publish and subscribers re-read the job store on close.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]map[int]chan Event
	nextID int
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[int]chan Event)}
}

// Subscribe attaches to a job's event sequence. The returned cancel function
// detaches the subscriber without affecting the job or other subscribers.
func (b *Broker) Subscribe(jobID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, subscriberBuffer)
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[int]chan Event)
	}
	b.nextID++
	id := b.nextID
	b.subs[jobID][id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.subs[jobID]; ok {
			if _, ok := subs[id]; ok {
				delete(subs, id)
				close(ch)
			}
			if len(subs) == 0 {
				delete(b.subs, jobID)
			}
		}
	}
}

// Publish delivers the event to every current subscriber of the job, in
// publish order, without blocking.
func (b *Broker) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[ev.JobID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close ends the event sequence for a job, closing all subscriber channels.
// Called once the job reaches a terminal state.
func (b *Broker) Close(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[jobID] {
		close(ch)
	}
	delete(b.subs, jobID)
}
