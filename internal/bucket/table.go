package bucket

import "github.com/opencluster/opencluster/internal/valuestore"

// Table is the fixed-size array of mask+1 bucket descriptors owned by
// one node. Callers are expected to serialize all mutation through the
// single event-loop goroutine (spec §6: "single-threaded cooperative
// event loop"); Table itself does no locking.
type Table struct {
	mask    uint64
	buckets []*Bucket
}

// NewFounder allocates a table for mask with every bucket owned
// locally at level 0 and no backups (spec §4: "on startup, if no peers
// are configured or reachable ... this node is the founder: it
// allocates mask+1 buckets all at level 0, all owned locally").
func NewFounder(mask uint64) *Table {
	t := &Table{mask: mask, buckets: make([]*Bucket, mask+1)}
	for i := range t.buckets {
		t.buckets[i] = newPrimary(uint64(i), mask)
	}
	return t
}

// NewJoiner allocates an empty table for mask with no local
// ownership, for a node that is waiting on hashmask broadcasts before
// accepting client traffic.
func NewJoiner(mask uint64) *Table {
	t := &Table{mask: mask, buckets: make([]*Bucket, mask+1)}
	for i := range t.buckets {
		t.buckets[i] = newEmpty(uint64(i))
	}
	return t
}

// Mask returns the table's current mask.
func (t *Table) Mask() uint64 { return t.mask }

// Len returns mask+1.
func (t *Table) Len() int { return len(t.buckets) }

// Bucket returns the descriptor for idx. idx must be <= Mask().
func (t *Table) Bucket(idx uint64) *Bucket { return t.buckets[idx] }

// All returns every bucket descriptor, for iteration by the migration
// decision procedure and loadlevel counters.
func (t *Table) All() []*Bucket { return t.buckets }

// PrimaryCount returns the number of buckets at level 0.
func (t *Table) PrimaryCount() int {
	n := 0
	for _, b := range t.buckets {
		if b.Level == LevelPrimary {
			n++
		}
	}
	return n
}

// SecondaryCount returns the number of buckets at level 1.
func (t *Table) SecondaryCount() int {
	n := 0
	for _, b := range t.buckets {
		if b.Level == LevelSecondary {
			n++
		}
	}
	return n
}

// NoBackupCount returns the number of primaries with no backup node.
func (t *Table) NoBackupCount() int {
	n := 0
	for _, b := range t.buckets {
		if b.NoBackup() {
			n++
		}
	}
	return n
}

// LastBucketIndices returns every bucket index currently flagged
// LastBucket, for the event loop to clear once they've had their one
// skipped decision round (spec §4.4: "skipped once").
func (t *Table) LastBucketIndices() []uint64 {
	var out []uint64
	for _, b := range t.buckets {
		if b.LastBucket {
			out = append(out, b.Index)
		}
	}
	return out
}

// Transferring reports whether any local bucket currently has a
// transfer in flight (the global bucket_transfer latch, spec §4.4: "At
// most one bucket per node is in transfer at a time").
func (t *Table) Transferring() bool {
	for _, b := range t.buckets {
		if b.InTransfer() {
			return true
		}
	}
	return false
}

// Split doubles the table's mask, fanning every existing bucket i out
// to i and i+oldMask+1 (spec §4.2). A bucket only splits its value
// store if it actually holds data locally (level 0 or 1); buckets at
// level -1 simply grow into two empty descriptors. The sibling
// descriptor at i+oldMask+1 inherits the same ownership role and peer
// pointers as i, since splitting a bucket the local node doesn't own
// primarily/secondarily never runs this path for data it must migrate
// — ownership of the new half is settled by the next loadlevel round,
// exactly as for any other under-loaded bucket.
func (t *Table) Split() {
	oldMask := t.mask
	newMask := oldMask<<1 | 1
	newBuckets := make([]*Bucket, newMask+1)

	for i := uint64(0); i <= oldMask; i++ {
		old := t.buckets[i]
		lo := &Bucket{
			Index:      i,
			Level:      old.Level,
			BackupNode: old.BackupNode,
			SourceNode: old.SourceNode,
		}
		hi := &Bucket{
			Index:      i + oldMask + 1,
			Level:      old.Level,
			BackupNode: old.BackupNode,
			SourceNode: old.SourceNode,
		}
		if old.Level != LevelNone && old.Data != nil {
			lo.Data = valuestore.NewChained(old.Data, lo.Index, newMask)
			hi.Data = valuestore.NewChained(old.Data, hi.Index, newMask)
		}
		newBuckets[lo.Index] = lo
		newBuckets[hi.Index] = hi
	}

	t.mask = newMask
	t.buckets = newBuckets
}
