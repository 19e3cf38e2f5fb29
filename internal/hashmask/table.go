// Package hashmask implements the cluster-global routing table (spec
// §3, §4.1): one entry per bucket index, naming the canonical
// conninfo of the current primary and secondary owners.
package hashmask

// Entry names the primary/secondary owners of one bucket index. Either
// name may be empty if that role currently has no owner.
type Entry struct {
	Primary   string
	Secondary string
}

// Table is the mask+1-entry hashmask table.
type Table struct {
	mask    uint64
	entries []Entry
}

// New returns a table sized for mask with every entry empty.
func New(mask uint64) *Table {
	return &Table{mask: mask, entries: make([]Entry, mask+1)}
}

// Mask returns the table's current mask.
func (t *Table) Mask() uint64 { return t.mask }

// Len returns mask+1, the number of bucket entries.
func (t *Table) Len() int { return len(t.entries) }

// Entry returns the entry for idx. idx must be <= Mask().
func (t *Table) Entry(idx uint64) Entry {
	return t.entries[idx]
}

// Primary returns the canonical name of idx's primary owner, or "" if
// unknown.
func (t *Table) Primary(idx uint64) string {
	return t.entries[idx].Primary
}

// SetPrimary records name as idx's primary owner.
func (t *Table) SetPrimary(idx uint64, name string) {
	t.entries[idx].Primary = name
}

// SetSecondary records name as idx's secondary owner.
func (t *Table) SetSecondary(idx uint64, name string) {
	t.entries[idx].Secondary = name
}

// Grow doubles (or more) the table to newMask+1 entries, copying each
// old entry at index `old` forward to every new index `i` where
// `i & oldMask == old` (spec §4.1: "If the received mask exceeds the
// local mask, the receiver first doubles its own table"). newMask must
// be >= the current mask.
func (t *Table) Grow(newMask uint64) {
	if newMask <= t.mask {
		return
	}
	oldMask := t.mask
	newEntries := make([]Entry, newMask+1)
	for i := range newEntries {
		newEntries[i] = t.entries[uint64(i)&oldMask]
	}
	t.entries = newEntries
	t.mask = newMask
}

// Apply applies a remote ownership update (mask, idx, level, name) per
// spec §4.1. level is 0 for primary, 1 for secondary. If mask exceeds
// the local mask the table grows first; if mask is smaller, idx is
// remapped modulo the local table size so older peers can still
// publish under a narrower mask. Updates are last-writer-wins: there
// is no vector clock, by design (a bucket's updates are only ever
// authoritatively emitted by its current primary).
func (t *Table) Apply(mask, idx uint64, level int, name string) {
	if mask > t.mask {
		t.Grow(mask)
	}
	localIdx := idx
	if mask < t.mask {
		localIdx = idx % uint64(len(t.entries))
	}
	switch level {
	case 0:
		t.entries[localIdx].Primary = name
	case 1:
		t.entries[localIdx].Secondary = name
	}
}

// Clear removes the name as both primary and secondary on idx if it is
// the name currently recorded (used when an update should evict a
// stale owner, e.g. after a peer is declared unreachable).
func (t *Table) Clear(idx uint64, name string) {
	if t.entries[idx].Primary == name {
		t.entries[idx].Primary = ""
	}
	if t.entries[idx].Secondary == name {
		t.entries[idx].Secondary = ""
	}
}
