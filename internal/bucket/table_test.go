package bucket

import (
	"testing"

	"github.com/opencluster/opencluster/internal/item"
)

func TestNewFounderAllPrimaryNoBackup(t *testing.T) {
	tb := NewFounder(0x0F)
	if tb.Len() != 16 {
		t.Fatalf("Len() = %d, want 16", tb.Len())
	}
	if tb.PrimaryCount() != 16 || tb.SecondaryCount() != 0 || tb.NoBackupCount() != 16 {
		t.Fatalf("PrimaryCount=%d SecondaryCount=%d NoBackupCount=%d",
			tb.PrimaryCount(), tb.SecondaryCount(), tb.NoBackupCount())
	}
}

func TestSplitPreservesDataViaChain(t *testing.T) {
	tb := NewFounder(0x0F)
	tb.Bucket(3).Data.Set(3, 1, item.IntValue(7), 0, 0)
	tb.Bucket(3).Data.Set(0x13, 1, item.IntValue(9), 0, 0) // also old index 3 (0x13 & 0x0F == 3)

	tb.Split()

	if tb.Mask() != 0x1F {
		t.Fatalf("Mask() = %x, want 0x1F", tb.Mask())
	}
	if tb.Len() != 32 {
		t.Fatalf("Len() = %d, want 32", tb.Len())
	}

	lo := tb.Bucket(3)
	hi := tb.Bucket(0x13)
	if lo.Level != LevelPrimary || hi.Level != LevelPrimary {
		t.Fatalf("split siblings should inherit the parent's level")
	}

	v, ok := lo.Data.Get(3, 1, 0)
	if !ok || v.Int != 7 {
		t.Fatalf("lo.Data.Get(3) = %+v, %v", v, ok)
	}
	v, ok = hi.Data.Get(0x13, 1, 0)
	if !ok || v.Int != 9 {
		t.Fatalf("hi.Data.Get(0x13) = %+v, %v", v, ok)
	}
}

func TestSplitUnownedBucketStaysUnowned(t *testing.T) {
	tb := NewJoiner(0x0F)
	tb.Split()
	if tb.Bucket(3).Level != LevelNone || tb.Bucket(0x13).Level != LevelNone {
		t.Fatalf("split of an unowned bucket should leave both halves unowned")
	}
	if tb.Bucket(3).Data != nil {
		t.Fatalf("unowned bucket should have no value store after split")
	}
}

func TestTransferringLatch(t *testing.T) {
	tb := NewFounder(0x03)
	if tb.Transferring() {
		t.Fatalf("fresh table should not be transferring")
	}
	tb.Bucket(0).TransferClient = "node-b"
	if !tb.Transferring() {
		t.Fatalf("expected Transferring() true once a bucket has a TransferClient")
	}
}
