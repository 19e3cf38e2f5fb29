package hashfn

import "testing"

// Canonical FNV-1a 64-bit test vectors (from the public FNV test suite).
func TestHashVectors(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
	}{
		{"", 0xcbf29ce484222325},
		{"a", 0xaf63dc4c8601ec8c},
		{"foobar", 0x85944171f73967e8},
	}
	for _, c := range cases {
		if got := Hash(c.in); got != c.want {
			t.Errorf("Hash(%q) = %#x, want %#x", c.in, got, c.want)
		}
	}
}

func TestHashUint64MatchesEncodedBytes(t *testing.T) {
	var v uint64 = 0x0102030405060708
	want := HashBytes([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	if got := HashUint64(v); got != want {
		t.Errorf("HashUint64(%#x) = %#x, want %#x", v, got, want)
	}
}

func TestBucketIndex(t *testing.T) {
	mask := uint64(0x0F)
	for _, kh := range []uint64{0, 1, 15, 16, 17, 0xFFFFFFFF} {
		got := BucketIndex(kh, mask)
		if got > mask {
			t.Errorf("BucketIndex(%#x, %#x) = %#x exceeds mask", kh, mask, got)
		}
		if got != kh&mask {
			t.Errorf("BucketIndex(%#x, %#x) = %#x, want %#x", kh, mask, got, kh&mask)
		}
	}
}
