package migration

import (
	"context"
	"testing"
	"time"

	"github.com/opencluster/opencluster/internal/bucket"
)

func TestDecideSwitchWhenPeerIsSkewedSecondaryHeavy(t *testing.T) {
	tbl := bucket.NewFounder(0x0F)
	tbl.Bucket(0).BackupNode = "peer-b"

	a := Decide(DecideParams{
		Local:       LoadInfo{Primary: 10, Secondary: 6},
		Target:      LoadInfo{Primary: 6, Secondary: 10},
		TargetName:  "peer-b",
		Mask:        0x0F,
		ActiveNodes: 3,
		Buckets:     tbl,
		NodeTotal:   func(string) int { return 0 },
	})
	if a.Kind != ActionSwitch || a.BucketIndex != 0 {
		t.Fatalf("Decide = %+v, want ActionSwitch on bucket 0", a)
	}
}

func TestDecideNoBackupFill(t *testing.T) {
	tbl := bucket.NewFounder(0x0F) // all 16 primaries, no backups
	a := Decide(DecideParams{
		Local:       LoadInfo{Primary: 16, Secondary: 0},
		Target:      LoadInfo{Primary: 0, Secondary: 0},
		TargetName:  "peer-b",
		Mask:        0x0F,
		ActiveNodes: 2,
		Buckets:     tbl,
		NodeTotal:   func(string) int { return 0 },
	})
	if a.Kind != ActionNoBackupFill {
		t.Fatalf("Decide = %+v, want ActionNoBackupFill", a)
	}
}

func TestDecideTransferForBalance(t *testing.T) {
	tbl := bucket.NewFounder(0x0F)
	for _, b := range tbl.All() {
		b.BackupNode = "peer-c" // heavier than target
	}

	a := Decide(DecideParams{
		Local:       LoadInfo{Primary: 16, Secondary: 0},
		Target:      LoadInfo{Primary: 0, Secondary: 0},
		TargetName:  "peer-b",
		Mask:        0x0F,
		ActiveNodes: 3,
		Buckets:     tbl,
		NodeTotal: func(name string) int {
			if name == "peer-c" {
				return 100
			}
			return 0
		},
	})
	if a.Kind != ActionTransferForBalance || a.BucketIndex != 0 {
		t.Fatalf("Decide = %+v, want ActionTransferForBalance on bucket 0", a)
	}
}

func TestDecideNoneWhenBalanced(t *testing.T) {
	tbl := bucket.NewFounder(0x0F)
	for _, b := range tbl.All() {
		b.BackupNode = "peer-b"
	}
	a := Decide(DecideParams{
		Local:       LoadInfo{Primary: 8, Secondary: 8},
		Target:      LoadInfo{Primary: 8, Secondary: 8},
		TargetName:  "peer-b",
		Mask:        0x0F,
		ActiveNodes: 2,
		Buckets:     tbl,
		NodeTotal:   func(string) int { return 0 },
	})
	if a.Kind != ActionNone {
		t.Fatalf("Decide = %+v, want ActionNone", a)
	}
}

func TestDecideSkipsLastBucketOnce(t *testing.T) {
	tbl := bucket.NewFounder(0x0F) // all 16 primaries, no backups
	tbl.Bucket(0).LastBucket = true

	a := Decide(DecideParams{
		Local:       LoadInfo{Primary: 16, Secondary: 0},
		Target:      LoadInfo{Primary: 0, Secondary: 0},
		TargetName:  "peer-b",
		Mask:        0x0F,
		ActiveNodes: 2,
		Buckets:     tbl,
		NodeTotal:   func(string) int { return 0 },
	})
	if a.Kind != ActionNoBackupFill || a.BucketIndex != 1 {
		t.Fatalf("Decide = %+v, want bucket 1 (bucket 0 skipped via LastBucket)", a)
	}
}

func TestSourceTransferLifecycle(t *testing.T) {
	tr := NewSourceTransfer(3, 0x0F, "peer-b", 1)
	if err := tr.Accept(); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if err := tr.BeginStreaming(); err != nil {
		t.Fatalf("BeginStreaming: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	gen1, err := tr.AcquireSlot(ctx)
	if err != nil {
		t.Fatalf("AcquireSlot: %v", err)
	}
	if gen1 != 1 {
		t.Fatalf("gen1 = %d, want 1", gen1)
	}

	// TransitMax is 1: a second acquire should block until released.
	acquired := make(chan struct{})
	go func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel2()
		if _, err := tr.AcquireSlot(ctx2); err == nil {
			close(acquired)
		}
	}()
	select {
	case <-acquired:
		t.Fatalf("second AcquireSlot should have blocked while transit window is full")
	case <-time.After(300 * time.Millisecond):
	}

	tr.ReleaseSlot()
	if err := tr.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := tr.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if tr.State() != SourceDone {
		t.Fatalf("State() = %v, want SourceDone", tr.State())
	}
}

func TestSourceTransferRollbackFromStreaming(t *testing.T) {
	tr := NewSourceTransfer(3, 0x0F, "peer-b", 1)
	tr.Accept()
	tr.BeginStreaming()
	tr.Rollback()
	if tr.State() != SourceFailed {
		t.Fatalf("State() = %v, want SourceFailed", tr.State())
	}
}

func TestTargetTransferLifecycle(t *testing.T) {
	tr := NewTargetTransfer(3, 0x0F, "peer-a")
	if err := tr.Accept(); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if err := tr.BeginControl(); err != nil {
		t.Fatalf("BeginControl: %v", err)
	}
	if err := tr.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if tr.State() != TargetDone {
		t.Fatalf("State() = %v, want TargetDone", tr.State())
	}
}
