package node

import (
	"testing"

	"github.com/opencluster/opencluster/internal/conninfo"
)

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewRegistry()
	n := New("peer-a", conninfo.ConnInfo{Name: "peer-a", IP: "10.0.0.1", Port: 31336})
	r.Add(n)

	if got := r.Get("peer-a"); got != n {
		t.Fatalf("Get returned %+v, want the added node", got)
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}

	r.Remove("peer-a")
	if r.Get("peer-a") != nil {
		t.Fatalf("expected peer-a to be removed")
	}
}

func TestActiveCountIncludesSelf(t *testing.T) {
	r := NewRegistry()
	if r.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1 with no peers", r.ActiveCount())
	}
	a := New("a", conninfo.ConnInfo{Name: "a", Port: 1})
	a.State = StateReady
	b := New("b", conninfo.ConnInfo{Name: "b", Port: 2})
	b.State = StateConnecting
	r.Add(a)
	r.Add(b)
	if r.ActiveCount() != 2 {
		t.Fatalf("ActiveCount() = %d, want 2 (self + ready peer a, not connecting peer b)", r.ActiveCount())
	}
}

func TestBackoffProducesPositiveIntervals(t *testing.T) {
	n := New("peer-a", conninfo.ConnInfo{Name: "peer-a"})
	if d := n.NextBackOff(); d <= 0 {
		t.Fatalf("NextBackOff() = %v, want > 0", d)
	}
	n.ResetBackOff()
	if d := n.NextBackOff(); d <= 0 {
		t.Fatalf("NextBackOff() after reset = %v, want > 0", d)
	}
}
