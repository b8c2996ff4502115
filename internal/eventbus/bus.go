// Package eventbus decouples the syndication engine from observers
// (daemon sweeps, archive writers, CLI progress output).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Well-known event types published by the engine and adapters.
const (
	TypePublishStarted   = "publish.started"
	TypePublishSucceeded = "publish.succeeded"
	TypePublishFailed    = "publish.failed"
	TypePublishSkipped   = "publish.skipped"
	TypeRetryScheduled   = "retry.scheduled"
	TypeAuthRefreshed    = "auth.refreshed"
	TypeConfigReloaded   = "config.reloaded"
)

// Event is a lightweight, in-memory signal.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Slow subscribers may drop events (bounded backpressure).
//
// Data should be small and ideally JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// PublishEvent is the Data payload for publish.* events.
type PublishEvent struct {
	ToolID        string `json:"tool_id"`
	Platform      string `json:"platform"`
	PublicationID string `json:"publication_id,omitempty"`
	PostID        string `json:"post_id,omitempty"`
	Err           string `json:"err,omitempty"`
	Attempts      int    `json:"attempts,omitempty"`
	TookMS        int64  `json:"took_ms,omitempty"`
	DryRun        bool   `json:"dry_run,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
// It does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while sending.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery; drop for slow subscribers. A subscriber may
		// close its channel concurrently in unsubscribe, so recover from the
		// send-on-closed panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
