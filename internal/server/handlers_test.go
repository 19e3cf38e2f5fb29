package server

import (
	"testing"

	"github.com/opencluster/opencluster/internal/conninfo"
	"github.com/opencluster/opencluster/internal/item"
	"github.com/opencluster/opencluster/internal/wire"
)

func founder(t *testing.T) *Server {
	t.Helper()
	return NewFounder(conninfo.ConnInfo{Name: "node-a", Port: 31336}, 0x0F, 1, nil)
}

func TestPingReturnsACK(t *testing.T) {
	s := founder(t)
	reply, err := s.HandleFrame(wire.NewRequest(wire.PING, 7, nil), 0)
	if err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	if reply.Header.Command != wire.ACK || reply.Header.UserID != 7 {
		t.Fatalf("got %+v", reply.Header)
	}
}

func TestSetThenGetInt(t *testing.T) {
	s := founder(t)

	setPayload := wire.NewPayloadWriter().
		PutLong(100). // map
		PutLong(5).   // key
		PutInt(0).    // expires
		PutInt(0).    // fullwait
		PutString(nil).
		PutInt(42).
		Bytes()
	reply, err := s.HandleFrame(wire.NewRequest(wire.SETINT, 1, setPayload), 0)
	if err != nil {
		t.Fatalf("SET: %v", err)
	}
	if reply.Header.Command != wire.ACK {
		t.Fatalf("SET reply = %+v", reply.Header)
	}

	getPayload := wire.NewPayloadWriter().PutLong(100).PutLong(5).Bytes()
	reply, err = s.HandleFrame(wire.NewRequest(wire.GETINT, 2, getPayload), 0)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if reply.Header.Command != wire.DATAINT || reply.Header.ResponseCode != wire.StatusOK {
		t.Fatalf("GET reply header = %+v", reply.Header)
	}
	r := wire.NewPayloadReader(reply.Payload)
	m, _ := r.ReadLong()
	k, _ := r.ReadLong()
	v, _ := r.ReadInt()
	if m != 100 || k != 5 || v != 42 {
		t.Fatalf("GET reply payload = map=%d key=%d value=%d", m, k, v)
	}
}

func TestGetMissingReturnsRedirectForUnownedBucket(t *testing.T) {
	s := NewJoiner(conninfo.ConnInfo{Name: "node-b"}, 0x0F, 1, nil)
	s.Hashmask.SetPrimary(5, "node-a")

	// key_hash 5 & mask 0x0F == 5
	getPayload := wire.NewPayloadWriter().PutLong(100).PutLong(5).Bytes()
	reply, err := s.HandleFrame(wire.NewRequest(wire.GETINT, 1, getPayload), 0)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if reply.Header.Command != wire.DATASTR || reply.Header.ResponseCode != wire.StatusUnknown {
		t.Fatalf("got %+v", reply.Header)
	}
	r := wire.NewPayloadReader(reply.Payload)
	r.ReadLong()
	r.ReadLong()
	name, _ := r.ReadString()
	if string(name) != "node-a" {
		t.Fatalf("redirect name = %q, want node-a", name)
	}
}

func TestHashmaskApplyUpdatesTable(t *testing.T) {
	s := founder(t)
	payload := wire.NewPayloadWriter().PutLong(0x0F).PutLong(3).PutInt(0).PutString([]byte("node-c")).Bytes()
	reply, err := s.HandleFrame(wire.NewRequest(wire.HASHMASK, 0, payload), 0)
	if err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	if reply != nil {
		t.Fatalf("HASHMASK is fire-and-forget, got reply %+v", reply)
	}
	if s.Hashmask.Primary(3) != "node-c" {
		t.Fatalf("Primary(3) = %q, want node-c", s.Hashmask.Primary(3))
	}
}

func TestLoadLevelsReportsFounderCounts(t *testing.T) {
	s := founder(t)
	reply, err := s.HandleFrame(wire.NewRequest(wire.LOADLEVELS, 9, nil), 0)
	if err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	r := wire.NewPayloadReader(reply.Payload)
	primary, _ := r.ReadInt()
	secondary, _ := r.ReadInt()
	if primary != 16 || secondary != 0 {
		t.Fatalf("primary=%d secondary=%d, want 16/0", primary, secondary)
	}
}

func TestSetEnqueuesBackupSyncWhenBackupExists(t *testing.T) {
	s := founder(t)
	s.Buckets.Bucket(5).BackupNode = "node-b"

	var gotBackup string
	var gotKey uint64
	s.OnBackupSync = func(backupNode string, keyHash, mapHash uint64, v item.Value, expires int64, label []byte) {
		gotBackup = backupNode
		gotKey = keyHash
	}

	setPayload := wire.NewPayloadWriter().
		PutLong(100).
		PutLong(5).
		PutInt(0).
		PutInt(0).
		PutString(nil).
		PutInt(7).
		Bytes()
	if _, err := s.HandleFrame(wire.NewRequest(wire.SETINT, 1, setPayload), 0); err != nil {
		t.Fatalf("SET: %v", err)
	}
	if gotBackup != "node-b" || gotKey != 5 {
		t.Fatalf("OnBackupSync called with backup=%q key=%d, want node-b/5", gotBackup, gotKey)
	}
}
