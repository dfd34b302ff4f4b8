// Package events is the in-process change feed over the durable store.
// Collaborators subscribe to row-level change events; the client cache's only
// contract with the feed is "on any event, refetch the affected collection".
package events

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultBuffer = 16

// Table names carried on change events.
const (
	TableTasks            = "tasks"
	TableScheduledActions = "scheduled_actions"
)

// Op is the kind of row change.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is one row-level change event. It intentionally carries no row data:
// consumers refetch, never patch.
type Change struct {
	Table string `json:"table"`
	Op    Op     `json:"op"`
	RowID string `json:"id"`
}

// Bus fans row-change events out to watchers. Slow watchers drop events
// rather than block publishers; a dropped event is harmless because every
// event means "refetch", and a later event triggers the same refetch.
type Bus struct {
	mu       sync.RWMutex
	watchers map[uint64]chan Change
	nextID   uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{watchers: make(map[uint64]chan Change)}
}

// Watch subscribes to all change events until ctx is cancelled.
func (b *Bus) Watch(ctx context.Context) <-chan Change {
	ch := make(chan Change, defaultBuffer)
	id := atomic.AddUint64(&b.nextID, 1)

	b.mu.Lock()
	b.watchers[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if reg, ok := b.watchers[id]; ok {
			delete(b.watchers, id)
			close(reg)
		}
		b.mu.Unlock()
	}()

	return ch
}

// Publish delivers a change to every watcher, dropping on full buffers.
func (b *Bus) Publish(change Change) {
	b.mu.RLock()
	targets := make([]chan Change, 0, len(b.watchers))
	for _, ch := range b.watchers {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		b.safeSend(ch, change)
	}
}

func (b *Bus) safeSend(ch chan Change, change Change) {
	defer func() {
		if recover() != nil {
			// The watcher channel was closed after we copied it. Ignore and
			// keep publishing to the rest.
		}
	}()
	select {
	case ch <- change:
	default:
	}
}
