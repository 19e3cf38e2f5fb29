package valuestore

import (
	"testing"

	"github.com/opencluster/opencluster/internal/item"
)

func TestSetThenGet(t *testing.T) {
	s := New(0, 0x0F)
	s.Set(5, 100, item.IntValue(42), 0, 0)
	v, ok := s.Get(5, 100, 0)
	if !ok || v.Int != 42 {
		t.Fatalf("Get = %+v, %v", v, ok)
	}
}

func TestGetExpired(t *testing.T) {
	s := New(0, 0x0F)
	s.Set(5, 100, item.IntValue(1), 1000, 0)
	if _, ok := s.Get(5, 100, 500); !ok {
		t.Fatalf("expected unexpired item to be present")
	}
	if _, ok := s.Get(5, 100, 2000); ok {
		t.Fatalf("expected expired item to be missing")
	}
}

func TestChainedLazyMigration(t *testing.T) {
	old := New(3, 0x0F)
	old.Set(3, 1, item.IntValue(7), 0, 0)

	head := NewChained(old, 3, 0x1F)
	if head.ChainDepth() != 1 {
		t.Fatalf("ChainDepth = %d, want 1", head.ChainDepth())
	}
	if head.ChainRefCount() != 1 {
		t.Fatalf("ChainRefCount = %d, want 1", head.ChainRefCount())
	}
	if head.HeadLen() != 0 {
		t.Fatalf("new head should start empty, HeadLen = %d", head.HeadLen())
	}

	v, ok := head.Get(3, 1, 0)
	if !ok || v.Int != 7 {
		t.Fatalf("Get via chain = %+v, %v", v, ok)
	}
	if head.HeadLen() != 1 {
		t.Fatalf("expected lazy migration into head, HeadLen = %d", head.HeadLen())
	}
	if head.ChainDepth() != 0 {
		t.Fatalf("expected drained old generation to be unlinked, ChainDepth = %d", head.ChainDepth())
	}
}

func TestDrainOneOnlyClaimsOwnKeys(t *testing.T) {
	old := New(3, 0x0F)
	old.Set(3, 1, item.IntValue(1), 0, 0)    // routes to new index 3 under mask 0x1F
	old.Set(0x13, 1, item.IntValue(2), 0, 0) // routes to new index 0x13 under mask 0x1F

	headLo := NewChained(old, 3, 0x1F)
	headHi := NewChained(old, 0x13, 0x1F)

	if !headLo.DrainOne() {
		t.Fatalf("expected headLo to drain its own key")
	}
	if headLo.HeadLen() != 1 {
		t.Fatalf("headLo.HeadLen() = %d, want 1", headLo.HeadLen())
	}
	if headHi.HeadLen() != 0 {
		t.Fatalf("headHi should be untouched by headLo's drain, HeadLen = %d", headHi.HeadLen())
	}

	if !headHi.DrainOne() {
		t.Fatalf("expected headHi to drain its own key")
	}
	if headHi.HeadLen() != 1 {
		t.Fatalf("headHi.HeadLen() = %d, want 1", headHi.HeadLen())
	}
}

func TestDeleteThenReap(t *testing.T) {
	s := New(0, 0x0F)
	s.Set(1, 1, item.IntValue(9), 0, 0)
	s.Delete(1, 1)
	if v, ok := s.Get(1, 1, 0); !ok || !v.Deleted() {
		t.Fatalf("expected tombstoned item to still read as present+deleted, got %+v %v", v, ok)
	}
	if n := s.ReapDeleted(); n != 1 {
		t.Fatalf("ReapDeleted() = %d, want 1", n)
	}
	if _, ok := s.Get(1, 1, 0); ok {
		t.Fatalf("expected item to be gone after reap")
	}
}

func TestSetLabel(t *testing.T) {
	s := New(0, 0x0F)
	s.SetLabel(1, []byte("hello"), 0)
	lbl, ok := s.Label(1)
	if !ok || string(lbl.Label) != "hello" {
		t.Fatalf("Label() = %+v, %v", lbl, ok)
	}
}
