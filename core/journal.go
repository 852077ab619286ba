package core

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/troupekit/troupe/codec"
)

// DeadLetter records a message the runtime could not deliver: unknown
// target, full mailbox, actor outside the running state, or a failed
// reply pipe-back.
type DeadLetter struct {
	Target   string    `json:"target"`
	Reason   string    `json:"reason"`
	Envelope *Envelope `json:"envelope"`
	At       time.Time `json:"at"`
}

// Journal retains the most recent broadcast events and dead letters in
// bounded rings. The system subscribes it to the emitter at construction
// so operators can inspect what flowed through the runtime after the
// fact.
type Journal struct {
	mu       sync.Mutex
	capacity int
	events   []*Envelope
	dead     []DeadLetter
}

// DefaultJournalCapacity bounds each ring when no capacity is configured.
const DefaultJournalCapacity = 256

// NewJournal creates a journal retaining at most capacity entries per
// ring. Non-positive capacities fall back to DefaultJournalCapacity.
func NewJournal(capacity int) *Journal {
	if capacity <= 0 {
		capacity = DefaultJournalCapacity
	}
	return &Journal{capacity: capacity}
}

// Record appends a broadcast event, evicting the oldest entry when full.
func (j *Journal) Record(env *Envelope) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.events) == j.capacity {
		copy(j.events, j.events[1:])
		j.events[len(j.events)-1] = env
		return
	}
	j.events = append(j.events, env)
}

// RecordDeadLetter appends a dead letter, evicting the oldest when full.
func (j *Journal) RecordDeadLetter(dl DeadLetter) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.dead) == j.capacity {
		copy(j.dead, j.dead[1:])
		j.dead[len(j.dead)-1] = dl
		return
	}
	j.dead = append(j.dead, dl)
}

// Events returns a snapshot of retained events, oldest first.
func (j *Journal) Events() []*Envelope {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*Envelope, len(j.events))
	copy(out, j.events)
	return out
}

// DeadLetters returns a snapshot of retained dead letters, oldest first.
func (j *Journal) DeadLetters() []DeadLetter {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]DeadLetter, len(j.dead))
	copy(out, j.dead)
	return out
}

// Len returns the number of retained events.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.events)
}

// journalExport is the serialized shape written by Export.
type journalExport struct {
	Events      []*Envelope  `json:"events"`
	DeadLetters []DeadLetter `json:"deadLetters"`
}

// Export writes the journal's contents to w using the given codec.
func (j *Journal) Export(w io.Writer, c codec.Codec) error {
	j.mu.Lock()
	snapshot := journalExport{
		Events:      make([]*Envelope, len(j.events)),
		DeadLetters: make([]DeadLetter, len(j.dead)),
	}
	copy(snapshot.Events, j.events)
	copy(snapshot.DeadLetters, j.dead)
	j.mu.Unlock()

	data, err := c.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal journal: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}
