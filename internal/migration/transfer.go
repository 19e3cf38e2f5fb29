package migration

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/opencluster/opencluster/internal/ocerr"
)

// SourceState is the source side of one bucket's migration (spec.md
// §4.5):
//
//	IDLE --send ACCEPT_BUCKET--> ACCEPTING --ACCEPTING_BUCKET ack--> STREAMING
//	STREAMING --all SYNC_* acked--> FINALIZING --CONTROL_BUCKET_COMPLETE--> DONE
type SourceState int

const (
	SourceIdle SourceState = iota
	SourceAccepting
	SourceStreaming
	SourceFinalizing
	SourceDone
	SourceFailed
)

// TargetState is the target side of one bucket's migration.
type TargetState int

const (
	TargetIdle TargetState = iota
	TargetReceiving
	TargetControl
	TargetDone
	TargetFailed
)

// DefaultTransitMax is the conservative default TRANSIT_MAX from
// spec.md §4.5: "at most TRANSIT_MAX unacknowledged items at a time
// ... initial default 1".
const DefaultTransitMax = 1

// SourceTransfer drives one bucket's migration from the source side,
// bounding the number of unacknowledged SYNC_* items in flight with a
// weighted semaphore (spec.md §4.5's sliding window).
type SourceTransfer struct {
	BucketIndex uint64
	Mask        uint64
	Target      string

	mu    sync.Mutex
	state SourceState
	sem   *semaphore.Weighted

	// generation tags every item sent with a monotonically increasing
	// counter so a write racing an in-flight migration can be detected
	// and re-shipped (spec.md §4.5).
	generation uint64
}

// NewSourceTransfer starts a migration of bucketIndex to target,
// bounding in-flight items to transitMax (DefaultTransitMax if <= 0).
func NewSourceTransfer(bucketIndex, mask uint64, target string, transitMax int64) *SourceTransfer {
	if transitMax <= 0 {
		transitMax = DefaultTransitMax
	}
	return &SourceTransfer{
		BucketIndex: bucketIndex,
		Mask:        mask,
		Target:      target,
		state:       SourceIdle,
		sem:         semaphore.NewWeighted(transitMax),
	}
}

// State returns the transfer's current source-side state.
func (t *SourceTransfer) State() SourceState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Accept transitions IDLE -> ACCEPTING on sending ACCEPT_BUCKET.
func (t *SourceTransfer) Accept() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != SourceIdle {
		return ocerr.MigrationConflict("bucket %d: Accept called from state %v", t.BucketIndex, t.state)
	}
	t.state = SourceAccepting
	return nil
}

// BeginStreaming transitions ACCEPTING -> STREAMING once the target
// acks ACCEPTING_BUCKET (rather than CANT_ACCEPT_BUCKET).
func (t *SourceTransfer) BeginStreaming() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != SourceAccepting {
		return ocerr.MigrationConflict("bucket %d: BeginStreaming called from state %v", t.BucketIndex, t.state)
	}
	t.state = SourceStreaming
	return nil
}

// AcquireSlot blocks until a transit-window slot is free or ctx is
// done, reserving it for one outstanding SYNC_* item, and returns the
// generation tag to stamp on that item.
func (t *SourceTransfer) AcquireSlot(ctx context.Context) (uint64, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return 0, ocerr.Timeout("bucket %d: acquiring transit slot: %s", t.BucketIndex, err)
	}
	t.mu.Lock()
	t.generation++
	gen := t.generation
	t.mu.Unlock()
	return gen, nil
}

// ReleaseSlot frees a transit-window slot once its SYNC_*_ACK arrives
// (spec.md §4.5: "An item is considered migrated only after its
// SYNC_*_ACK arrives").
func (t *SourceTransfer) ReleaseSlot() {
	t.sem.Release(1)
}

// Finalize transitions STREAMING -> FINALIZING once every item has
// been acked and CONTROL_BUCKET has been sent.
func (t *SourceTransfer) Finalize() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != SourceStreaming {
		return ocerr.MigrationConflict("bucket %d: Finalize called from state %v", t.BucketIndex, t.state)
	}
	t.state = SourceFinalizing
	return nil
}

// Complete transitions FINALIZING -> DONE on CONTROL_BUCKET_COMPLETE.
func (t *SourceTransfer) Complete() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != SourceFinalizing {
		return ocerr.MigrationConflict("bucket %d: Complete called from state %v", t.BucketIndex, t.state)
	}
	t.state = SourceDone
	return nil
}

// Rollback aborts the transfer from any non-terminal state (spec.md
// §4.5: "lost connection during streaming rolls both sides back to
// pre-migration state"). The source keeps serving normally; nothing
// here undoes local state since the source never mutated its own
// bucket ownership before FINALIZING.
func (t *SourceTransfer) Rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = SourceFailed
}

// TargetTransfer drives one bucket's migration from the target side.
type TargetTransfer struct {
	BucketIndex uint64
	Mask        uint64
	Source      string

	mu    sync.Mutex
	state TargetState
}

// NewTargetTransfer begins receiving bucketIndex from source.
func NewTargetTransfer(bucketIndex, mask uint64, source string) *TargetTransfer {
	return &TargetTransfer{BucketIndex: bucketIndex, Mask: mask, Source: source, state: TargetIdle}
}

// State returns the transfer's current target-side state.
func (t *TargetTransfer) State() TargetState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Accept transitions IDLE -> RECEIVING on sending ACCEPTING_BUCKET in
// reply to ACCEPT_BUCKET (the target's level becomes -1 with
// transfer_client = source for the duration, per spec.md §4.5).
func (t *TargetTransfer) Accept() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TargetIdle {
		return ocerr.MigrationConflict("bucket %d: Accept called from state %v", t.BucketIndex, t.state)
	}
	t.state = TargetReceiving
	return nil
}

// BeginControl transitions RECEIVING -> CONTROL on receiving
// CONTROL_BUCKET, about to flip level from 1 to 0 locally.
func (t *TargetTransfer) BeginControl() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TargetReceiving {
		return ocerr.MigrationConflict("bucket %d: BeginControl called from state %v", t.BucketIndex, t.state)
	}
	t.state = TargetControl
	return nil
}

// Complete transitions CONTROL -> DONE after replying
// CONTROL_BUCKET_COMPLETE.
func (t *TargetTransfer) Complete() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TargetControl {
		return ocerr.MigrationConflict("bucket %d: Complete called from state %v", t.BucketIndex, t.state)
	}
	t.state = TargetDone
	return nil
}

// Rollback aborts the transfer: the target must discard any partial
// data it received (spec.md §4.5).
func (t *TargetTransfer) Rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = TargetFailed
}
