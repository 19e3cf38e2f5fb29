// Package bucket implements the bucket table (spec §3, §4.2): the
// fixed-size array of mask+1 bucket descriptors that owns each
// bucket's value store and tracks its ownership state.
package bucket

import "github.com/opencluster/opencluster/internal/valuestore"

// Level is a bucket's local ownership role.
type Level int

const (
	// LevelNone means this node holds no replica of the bucket.
	LevelNone Level = -1
	// LevelPrimary means this node is the bucket's primary.
	LevelPrimary Level = 0
	// LevelSecondary means this node is the bucket's secondary (backup).
	LevelSecondary Level = 1
)

func (l Level) String() string {
	switch l {
	case LevelPrimary:
		return "primary"
	case LevelSecondary:
		return "secondary"
	default:
		return "none"
	}
}

// Bucket is one bucket descriptor (spec §3's bucket table entry).
type Bucket struct {
	Index uint64
	Level Level

	// Data is this bucket's value store. Nil when Level is LevelNone.
	Data *valuestore.Store

	// BackupNode is set when Level is LevelPrimary and a secondary
	// replica exists elsewhere; empty means "no-backup".
	BackupNode string
	// SourceNode is set when Level is LevelSecondary: the primary this
	// replica streams updates from.
	SourceNode string
	// TransferClient is the peer this bucket is currently being
	// migrated to, or "" if no transfer is in flight.
	TransferClient string
	// Promoting is true between asking a secondary to promote and
	// receiving its CONTROL_BUCKET_COMPLETE ack.
	Promoting bool
	// LastBucket marks that this bucket was the most recent one
	// involved in a migration or switch, so the decision procedure's
	// tie-break skips it once before it is eligible again.
	LastBucket bool
}

// NoBackup reports whether a primary bucket currently has no backup.
func (b *Bucket) NoBackup() bool {
	return b.Level == LevelPrimary && b.BackupNode == ""
}

// InTransfer reports whether this bucket is currently being migrated
// out.
func (b *Bucket) InTransfer() bool {
	return b.TransferClient != ""
}

// newPrimary returns a freshly allocated primary bucket at idx/mask
// with an empty value store and no backup.
func newPrimary(idx, mask uint64) *Bucket {
	return &Bucket{
		Index: idx,
		Level: LevelPrimary,
		Data:  valuestore.New(idx, mask),
	}
}

// newEmpty returns a bucket descriptor this node holds no replica of.
func newEmpty(idx uint64) *Bucket {
	return &Bucket{Index: idx, Level: LevelNone}
}
