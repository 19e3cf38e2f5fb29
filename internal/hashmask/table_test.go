package hashmask

import "testing"

func TestApplyBasic(t *testing.T) {
	tb := New(0x0F)
	tb.Apply(0x0F, 3, 0, "node-a")
	tb.Apply(0x0F, 3, 1, "node-b")
	if tb.Primary(3) != "node-a" {
		t.Fatalf("Primary(3) = %q", tb.Primary(3))
	}
	if tb.Entry(3).Secondary != "node-b" {
		t.Fatalf("Secondary(3) = %q", tb.Entry(3).Secondary)
	}
}

func TestApplyGrowsOnLargerMask(t *testing.T) {
	tb := New(0x0F)
	tb.SetPrimary(3, "node-a")
	tb.SetSecondary(3, "node-b")
	tb.Apply(0x1F, 3, 0, "node-a")
	tb.Apply(0x1F, 0x13, 0, "node-c")

	if tb.Mask() != 0x1F {
		t.Fatalf("Mask() = %x, want 0x1F", tb.Mask())
	}
	if tb.Primary(3) != "node-a" {
		t.Fatalf("Primary(3) = %q, want node-a", tb.Primary(3))
	}
	if tb.Primary(0x13) != "node-c" {
		t.Fatalf("Primary(0x13) = %q, want node-c", tb.Primary(0x13))
	}
	// every index that folds back to the old 3 under the old mask should
	// have inherited the old entry during Grow. 0x13's primary was then
	// overwritten by node-c, but its secondary still comes from old 3.
	if tb.Entry(0x13).Secondary != "node-b" {
		t.Fatalf("Grow did not fan the old entry out to sibling indices")
	}
}

func TestApplyRemapsSmallerMask(t *testing.T) {
	tb := New(0x1F)
	tb.Apply(0x0F, 3, 0, "node-a")
	if tb.Primary(3) != "node-a" || tb.Primary(0x13) != "" {
		t.Fatalf("smaller-mask update should only touch its own modulo slot")
	}
}

func TestClear(t *testing.T) {
	tb := New(0x0F)
	tb.SetPrimary(1, "node-a")
	tb.SetSecondary(1, "node-b")
	tb.Clear(1, "node-a")
	if tb.Primary(1) != "" {
		t.Fatalf("expected primary cleared")
	}
	if tb.Entry(1).Secondary != "node-b" {
		t.Fatalf("expected secondary untouched")
	}
}
