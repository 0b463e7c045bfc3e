package docsync

import (
	"sync"
	"time"
)

// EventType names one kind of published event.
type EventType string

const (
	EventItemStateChanged       EventType = "file-item-state-changed"
	EventAccountActivityChanged EventType = "account-activity-changed"
	EventSyncError              EventType = "sync-error-occurred"
	EventTransferFinished       EventType = "transfer-finished"
)

// AccountActivity is what an account agent is currently doing.
type AccountActivity string

const (
	ActivityIdle    AccountActivity = "idle"
	ActivitySyncing AccountActivity = "syncing"
	ActivityPaused  AccountActivity = "paused"
)

// Event carries the identifiers of the entity a change concerns. Fields that
// do not apply to the event type are left zero.
type Event struct {
	Type      EventType
	Time      time.Time
	Account   string
	Container string
	Document  DocumentID
	Path      string

	State    ItemState
	Previous ItemState
	Activity AccountActivity

	Transfer TransferKind
	Result   string

	Err     error
	ErrKind ErrorKind
}

// EventBus fans events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	bufferSize  int
}

// NewEventBus creates a bus whose subscriber channels hold bufferSize events.
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &EventBus{
		subscribers: make(map[chan Event]struct{}),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a channel receiving all subsequently published events.
func (b *EventBus) Subscribe() chan Event {
	ch := make(chan Event, b.bufferSize)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// Publish delivers ev to every subscriber that has room for it.
// A nil bus discards events.
func (b *EventBus) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
