package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/opencluster/opencluster/internal/bucket"
	"github.com/opencluster/opencluster/internal/conninfo"
	"github.com/opencluster/opencluster/internal/hashfn"
	"github.com/opencluster/opencluster/internal/item"
	"github.com/opencluster/opencluster/internal/node"
)

// listen starts a loopback listener and returns it alongside its
// conninfo (name, resolved port).
func listen(t *testing.T, name string) (net.Listener, conninfo.ConnInfo) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	return ln, conninfo.ConnInfo{Name: name, IP: "127.0.0.1", Port: port}
}

// TestNoBackupFillMigratesBucket exercises spec.md §8's two-node
// balance scenario end to end: a lone founder with every bucket
// primary and no backups gains a peer, and the loadlevel-driven
// decision procedure streams its no-backup buckets to the new peer, one
// at a time (spec.md §4.4's no-backup-fill rule, §4.5's
// ACCEPT_BUCKET/SYNC_ITEM/CONTROL_BUCKET wire protocol). The test checks
// that the bucket holding its seeded key ends up primary on the new peer
// with the data intact, while the founder keeps it as a secondary.
func TestNoBackupFillMigratesBucket(t *testing.T) {
	const mask = 0x03 // 4 buckets: few enough that node-b's total stays under mask+1 for every bucket fill

	lnA, ciA := listen(t, "node-a")
	defer lnA.Close()
	srvA := NewFounder(ciA, mask, 4, nil)
	loopA := NewLoop(srvA, 40*time.Millisecond)
	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	go loopA.Serve(ctxA, lnA)

	// Seed data directly through srvA's own bucket table before node-b
	// ever joins, so the migrated bucket carries a value to verify
	// afterward.
	mapHash := hashfn.Hash("widgets")
	keyHash := hashfn.Hash("sprocket")
	idx := hashfn.BucketIndex(keyHash, mask)
	srvA.Buckets.Bucket(idx).Data.Set(keyHash, mapHash, item.StringValue([]byte("gear")), 0, 0)

	lnB, ciB := listen(t, "node-b")
	defer lnB.Close()
	srvB := NewJoiner(ciB, mask, 4, nil)
	loopB := NewLoop(srvB, time.Minute)
	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()
	go loopB.Serve(ctxB, lnB)

	// node-b dials node-a; node-a discovers node-b from the inbound
	// SERVERHELLO (handleInboundServerHello), so only one side needs a
	// pre-registered peer entry.
	srvB.Nodes.Add(node.New("node-a", ciA))
	go loopB.DialPeer(ctxB, srvB.Nodes.Get("node-a"))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		b := srvB.Buckets.Bucket(idx)
		// A no-backup-fill finalize hands the target the bucket as the
		// new primary directly (loop_migrate.go's handleControlBucket,
		// the streamed-migration-finalize branch) — it never passes
		// through LevelSecondary.
		if b.Level == bucket.LevelPrimary && b.Data != nil {
			if v, ok := b.Data.Get(keyHash, mapHash, time.Now().Unix()); ok && string(v.String) == "gear" {
				goto migrated
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("bucket %d never migrated to node-b as primary with its data intact; node-b bucket = %+v", idx, srvB.Buckets.Bucket(idx))

migrated:
	srcBucket := srvA.Buckets.Bucket(idx)
	if srcBucket.Level != bucket.LevelSecondary || srcBucket.SourceNode != "node-b" {
		t.Fatalf("node-a bucket %d after migration = %+v, want secondary sourced from node-b", idx, srcBucket)
	}
	if got := srvA.Hashmask.Primary(idx); got != "node-b" {
		t.Fatalf("node-a hashmask primary(%d) = %q, want node-b", idx, got)
	}
}
