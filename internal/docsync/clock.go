package docsync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// IDGenerator abstracts unique ID generation so tests are deterministic.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// deadlineContext reports Err without waiting for Done. clockwork's
// fake-clock context blocks in Err until it is done.
type deadlineContext struct {
	context.Context
}

func (c deadlineContext) Err() error {
	select {
	case <-c.Done():
		return c.Context.Err()
	default:
		return nil
	}
}

// withClockTimeout is clockwork.WithTimeout with a non-blocking Err.
func withClockTimeout(parent context.Context, clock clockwork.Clock, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := clockwork.WithTimeout(parent, clock, d)
	return deadlineContext{ctx}, cancel
}
