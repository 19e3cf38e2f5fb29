package server

import (
	"context"
	"time"

	"github.com/opencluster/opencluster/internal/bucket"
	"github.com/opencluster/opencluster/internal/clientconn"
	"github.com/opencluster/opencluster/internal/conninfo"
	"github.com/opencluster/opencluster/internal/hashfn"
	"github.com/opencluster/opencluster/internal/migration"
	"github.com/opencluster/opencluster/internal/valuestore"
	"github.com/opencluster/opencluster/internal/wire"
)

// migrationRoundTrip bounds how long a source-side driver waits for a
// target's reply to ACCEPT_BUCKET/SYNC_*/CONTROL_BUCKET before treating
// the migration as failed (spec.md §4.5 names no explicit value for
// this; T_client's 6s idle-timeout default is the closest named
// constant, so migration steps reuse it).
const migrationRoundTrip = 6 * time.Second

// publishHashmask applies a local ownership change and broadcasts it
// to every connected peer (spec.md §4.1: every ownership change is
// broadcast). Must run on the event-loop goroutine.
func (l *Loop) publishHashmask(mask, idx uint64, level int, name string) {
	l.srv.ApplyHashmask(mask, idx, level, name)
	f := BroadcastHashmask(mask, idx, level, name)
	for peer, c := range l.allPeerConns() {
		if err := c.Send(f); err != nil {
			l.srv.Log.Errorf("server: publishing hashmask to %s: %s", peer, err)
		}
	}
}

// handleMigrationFrame dispatches the five migration-protocol commands
// that arrive on a peer connection (spec.md §4.5, §4.6). These never
// go through Server.HandleFrame because, unlike client requests, they
// mutate bucket ownership and must see the in-flight transfer state
// loop.go tracks per peer.
func (l *Loop) handleMigrationFrame(ev inbound) {
	switch ev.f.Header.Command {
	case wire.ACCEPTBUCKET:
		l.handleAcceptBucket(ev)
	case wire.SYNCITEM:
		l.handleSyncItem(ev)
	case wire.SYNCKEYVALUE:
		l.handleSyncKeyValue(ev)
	case wire.CONTROLBUCKET:
		l.handleControlBucket(ev)
	case wire.FINALISEMIGRATION:
		l.handleFinaliseMigration(ev)
	}
}

// handleFinaliseMigration applies a third-party ownership notification
// (spec.md §4.5: "the source notifies the previous backup node of the
// new primary"). It carries no reply; the sender doesn't wait on one.
func (l *Loop) handleFinaliseMigration(ev inbound) {
	r := wire.NewPayloadReader(ev.f.Payload)
	_, err := r.ReadLong() // mask: this node's mask already governs idx
	if err != nil {
		return
	}
	idx, err := r.ReadLong()
	if err != nil {
		return
	}
	if _, err := r.ReadInt(); err != nil { // level: always secondary for this notification
		return
	}
	newPrimary, err := r.ReadString()
	if err != nil {
		return
	}
	if idx > l.srv.Buckets.Mask() {
		return
	}
	b := l.srv.Buckets.Bucket(idx)
	if b.Level == bucket.LevelSecondary {
		b.SourceNode = string(newPrimary)
	}
}

func (l *Loop) handleAcceptBucket(ev inbound) {
	r := wire.NewPayloadReader(ev.f.Payload)
	mask, err := r.ReadLong()
	if err != nil {
		return
	}
	idx, err := r.ReadLong()
	if err != nil {
		return
	}

	reject := func() {
		ev.conn.Send(wire.NewReply(wire.CANTACCEPTBUCKET, wire.StatusOK, ev.f.Header.UserID, nil))
	}

	// "If mid-transfer the source learns its own mask differs from the
	// request's, it rejects; the receiver must first split" (spec.md
	// §4.5) — symmetrically, a target whose mask doesn't match the
	// source's can't safely place the bucket at idx either.
	if mask != l.srv.Buckets.Mask() {
		reject()
		return
	}
	if idx > l.srv.Buckets.Mask() {
		reject()
		return
	}
	b := l.srv.Buckets.Bucket(idx)
	if b.Level != bucket.LevelNone {
		reject()
		return
	}
	if l.srv.BeginTargetTransfer(ev.peer, idx, mask) == nil {
		reject()
		return
	}

	b.Data = valuestore.New(idx, mask)
	b.TransferClient = ev.peer

	ev.conn.Send(wire.NewReply(wire.ACCEPTINGBUCKET, wire.StatusOK, ev.f.Header.UserID, nil))
}

// targetStream resolves the in-flight transfer and destination bucket
// for a SYNC_ITEM/SYNC_KEYVALUE arriving on ev's connection, or nil if
// there is none (a stray frame after rollback/timeout is silently
// dropped rather than erroring the connection).
func (l *Loop) targetStream(peer string) (*migration.TargetTransfer, *bucket.Bucket) {
	t := l.srv.TargetTransfer(peer)
	if t == nil {
		return nil, nil
	}
	return t, l.srv.Buckets.Bucket(t.BucketIndex)
}

// routedSecondary resolves which bucket a SYNC_ITEM/SYNC_KEYVALUE
// belongs to when it's steady-state backup traffic rather than part of
// an active migration stream: the wire carries no bucket index for
// these two commands (spec.md §6), so outside a migration the target
// recovers it by re-hashing keyHash against its own mask, the same
// routing rule a GET/SET uses (spec.md §4.7). Returns nil if the
// resulting bucket isn't in fact a secondary fed by peer — a stale or
// misrouted frame is dropped rather than applied.
func (l *Loop) routedSecondary(peer string, keyHash uint64) *bucket.Bucket {
	idx := hashfn.BucketIndex(keyHash, l.srv.Buckets.Mask())
	b := l.srv.Buckets.Bucket(idx)
	if b.Level != bucket.LevelSecondary || b.SourceNode != peer || b.Data == nil {
		return nil
	}
	return b
}

func (l *Loop) handleSyncItem(ev inbound) {
	r := wire.NewPayloadReader(ev.f.Payload)
	mapHash, err := r.ReadLong()
	if err != nil {
		return
	}
	keyHash, err := r.ReadLong()
	if err != nil {
		return
	}
	expiresIn, err := r.ReadInt()
	if err != nil {
		return
	}
	v, err := r.ReadValue()
	if err != nil {
		return
	}
	var expires int64
	if expiresIn != 0 {
		expires = time.Now().Unix() + int64(expiresIn)
	}

	// A migration stream in progress (ACCEPT_BUCKET already exchanged)
	// takes priority and gets an ack, since runMigration's sliding
	// window is bounded on one; steady-state backup sync after the
	// bucket already has a settled secondary owes no ack (spec.md
	// §4.7: backup sync is not synchronous with the client's SET).
	if t, b := l.targetStream(ev.peer); t != nil {
		b.Data.Set(keyHash, mapHash, v, expires, 0)
		ev.conn.Send(wire.NewReply(wire.ACK, wire.StatusOK, ev.f.Header.UserID, nil))
		return
	}
	if b := l.routedSecondary(ev.peer, keyHash); b != nil {
		b.Data.Set(keyHash, mapHash, v, expires, 0)
	}
}

func (l *Loop) handleSyncKeyValue(ev inbound) {
	r := wire.NewPayloadReader(ev.f.Payload)
	keyHash, err := r.ReadLong()
	if err != nil {
		return
	}
	expiresIn, err := r.ReadInt()
	if err != nil {
		return
	}
	label, err := r.ReadString()
	if err != nil {
		return
	}
	var expires int64
	if expiresIn != 0 {
		expires = time.Now().Unix() + int64(expiresIn)
	}

	if t, b := l.targetStream(ev.peer); t != nil {
		b.Data.SetLabel(keyHash, label, expires)
		ev.conn.Send(wire.NewReply(wire.ACK, wire.StatusOK, ev.f.Header.UserID, nil))
		return
	}
	if b := l.routedSecondary(ev.peer, keyHash); b != nil {
		b.Data.SetLabel(keyHash, label, expires)
	}
}

// handleControlBucket handles CONTROL_BUCKET on the target side for
// both protocols that use it: a bare promotion/switch (spec.md §4.6,
// no preceding ACCEPT_BUCKET) and the finalize step of a streamed
// migration (spec.md §4.5). The payload's level field names the
// *sender's* (source's) new level for this bucket; peer_conninfo names
// the sender, which becomes this node's new backup_node/source_node
// depending on which side of the swap it lands on (see DESIGN.md for
// why the wire table's terse "level:int, peer_conninfo:string" is read
// this way).
func (l *Loop) handleControlBucket(ev inbound) {
	r := wire.NewPayloadReader(ev.f.Payload)
	mask, err := r.ReadLong()
	if err != nil {
		return
	}
	idx, err := r.ReadLong()
	if err != nil {
		return
	}
	level, err := r.ReadInt()
	if err != nil {
		return
	}
	peerConn, err := r.ReadString()
	if err != nil {
		return
	}
	peerName := ev.peer
	if ci, err := conninfo.Parse(peerConn); err == nil {
		peerName = ci.Name
	}

	fail := func() {
		ev.conn.Send(wire.NewReply(wire.CONTROLFAILED, wire.StatusOK, ev.f.Header.UserID, wire.NewPayloadWriter().PutLong(mask).PutLong(idx).Bytes()))
	}

	b := l.srv.Buckets.Bucket(idx)
	t := l.srv.TargetTransfer(ev.peer)

	switch {
	case t != nil && t.BucketIndex == idx:
		// Finalizing a streamed migration: this node was RECEIVING
		// (level=-1, data already populated by SYNC_ITEM/SYNC_KEYVALUE).
		if err := t.BeginControl(); err != nil {
			fail()
			return
		}
		b.Level = bucket.LevelPrimary
		b.TransferClient = ""
		b.SourceNode = ""
		if bucket.Level(level) == bucket.LevelSecondary {
			b.BackupNode = peerName
		} else {
			b.BackupNode = ""
		}
		t.Complete()
		l.srv.EndTargetTransfer(ev.peer)
	case b.Level == bucket.LevelSecondary && b.SourceNode == ev.peer:
		// Bare promotion (switch): this node's existing secondary copy
		// becomes primary, no streaming involved.
		b.Level = bucket.LevelPrimary
		b.SourceNode = ""
		b.BackupNode = peerName
	default:
		fail()
		return
	}

	ev.conn.Send(wire.NewReply(wire.CONTROLCOMPLETE, wire.StatusOK, ev.f.Header.UserID, wire.NewPayloadWriter().PutLong(mask).PutLong(idx).Bytes()))
	l.publishHashmask(mask, idx, int(bucket.LevelPrimary), l.srv.Self.Name)
}

// roundTrip sends req on conn and waits for its reply or timeout.
func roundTrip(conn *clientconn.Conn, req *wire.Frame) (*wire.Frame, error) {
	ch := conn.Register(req.Header.UserID, req.Header.Command)
	if err := conn.Send(req); err != nil {
		return nil, err
	}
	select {
	case f, ok := <-ch:
		if !ok {
			return nil, context.Canceled
		}
		return f, nil
	case <-time.After(migrationRoundTrip):
		return nil, context.DeadlineExceeded
	}
}

// runSwitch drives the source side of a no-streaming promotion (spec.md
// §4.6): target already holds bucketIndex as a secondary; this asks it
// to become primary while the source demotes to secondary.
func (l *Loop) runSwitch(conn *clientconn.Conn, bucketIndex uint64, targetName string) {
	mask := l.srv.Buckets.Mask()
	userID := conn.NextUserID()
	payload := wire.NewPayloadWriter().
		PutLong(mask).
		PutLong(bucketIndex).
		PutInt(int32(bucket.LevelSecondary)).
		PutString([]byte(l.srv.Self.String())).
		Bytes()
	reply, err := roundTrip(conn, wire.NewRequest(wire.CONTROLBUCKET, userID, payload))
	ok := err == nil && reply != nil && reply.Header.Command == wire.CONTROLCOMPLETE
	l.loopFuncs <- func() {
		b := l.srv.Buckets.Bucket(bucketIndex)
		if !ok {
			l.srv.Log.Errorf("migration: switch of bucket %d to %s failed: %v", bucketIndex, targetName, err)
			b.Promoting = false
			return
		}
		b.Level = bucket.LevelSecondary
		b.SourceNode = targetName
		b.BackupNode = ""
		b.Promoting = false
		l.publishHashmask(mask, bucketIndex, int(bucket.LevelSecondary), l.srv.Self.Name)
	}
}

// runMigration drives the source side of a full bucket transfer
// (spec.md §4.5): ACCEPT_BUCKET, stream every live item, then
// CONTROL_BUCKET to finalize. Each SYNC_ITEM holds a transit slot until
// its ACK arrives and the next one is sent only after that, so one item
// is in flight at a time whatever TRANSIT_MAX is. items
// is a snapshot taken on the event-loop goroutine before this goroutine
// started (applyAction); this goroutine never touches the bucket
// table or value store directly, only the wire and, via l.loopFuncs,
// the event loop itself (spec.md §6: only the event loop mutates
// shared state). A write landing on the bucket after the snapshot was
// taken is not re-shipped before CONTROL_BUCKET — see DESIGN.md for
// why this simplifies the source's migration-generation re-ship rule.
func (l *Loop) runMigration(conn *clientconn.Conn, t *migration.SourceTransfer, kind migration.ActionKind, items []migrationItem, prevBackup string) {
	bucketIndex := t.BucketIndex
	mask := t.Mask
	targetName := t.Target
	srcBucket := l.srv.Buckets.Bucket(bucketIndex)

	fail := func(reason string) {
		t.Rollback()
		l.loopFuncs <- func() {
			l.srv.Log.Errorf("migration: bucket %d to %s: %s", bucketIndex, targetName, reason)
			srcBucket.TransferClient = ""
			l.srv.EndSourceTransfer()
		}
	}

	t.Accept()
	acceptPayload := wire.NewPayloadWriter().PutLong(mask).PutLong(bucketIndex).Bytes()
	reply, err := roundTrip(conn, wire.NewRequest(wire.ACCEPTBUCKET, conn.NextUserID(), acceptPayload))
	if err != nil {
		fail("ACCEPT_BUCKET: " + err.Error())
		return
	}
	if reply.Header.Command != wire.ACCEPTINGBUCKET {
		fail("target sent CANT_ACCEPT_BUCKET")
		return
	}
	t.BeginStreaming()

	now := time.Now().Unix()
	for _, mi := range items {
		ctx, cancel := context.WithTimeout(context.Background(), migrationRoundTrip)
		_, err := t.AcquireSlot(ctx)
		cancel()
		if err != nil {
			fail("acquiring transit slot: " + err.Error())
			return
		}
		var expiresIn int32
		if mi.expires != 0 {
			if d := mi.expires - now; d > 0 {
				expiresIn = int32(d)
			}
		}
		payload := wire.NewPayloadWriter().PutLong(mi.mapHash).PutLong(mi.keyHash).PutInt(expiresIn).PutValue(mi.v).Bytes()
		reply, err = roundTrip(conn, wire.NewRequest(wire.SYNCITEM, conn.NextUserID(), payload))
		t.ReleaseSlot()
		if err != nil {
			fail("SYNC_ITEM: " + err.Error())
			return
		}
		if mi.label != nil {
			labelPayload := wire.NewPayloadWriter().PutLong(mi.keyHash).PutInt(expiresIn).PutString(mi.label).Bytes()
			if _, err := roundTrip(conn, wire.NewRequest(wire.SYNCKEYVALUE, conn.NextUserID(), labelPayload)); err != nil {
				fail("SYNC_KEYVALUE: " + err.Error())
				return
			}
		}
	}
	t.Finalize()

	// The CONTROL_BUCKET level field names the source's own new level,
	// per the reading documented in handleControlBucket's doc comment.
	var newLevel bucket.Level
	switch kind {
	case migration.ActionNoBackupFill:
		newLevel = bucket.LevelSecondary
	case migration.ActionTransferForBalance:
		newLevel = bucket.LevelNone
	}
	controlPayload := wire.NewPayloadWriter().
		PutLong(mask).
		PutLong(bucketIndex).
		PutInt(int32(newLevel)).
		PutString([]byte(l.srv.Self.String())).
		Bytes()
	reply, err = roundTrip(conn, wire.NewRequest(wire.CONTROLBUCKET, conn.NextUserID(), controlPayload))
	if err != nil || reply.Header.Command != wire.CONTROLCOMPLETE {
		fail("CONTROL_BUCKET finalize rejected or timed out")
		return
	}
	t.Complete()

	l.loopFuncs <- func() {
		switch kind {
		case migration.ActionNoBackupFill:
			srcBucket.Level = bucket.LevelSecondary
			srcBucket.SourceNode = targetName
			srcBucket.BackupNode = ""
		case migration.ActionTransferForBalance:
			srcBucket.Level = bucket.LevelNone
			srcBucket.Data = nil
			srcBucket.BackupNode = ""
			if prevBackup != "" {
				l.notifyNewPrimary(prevBackup, mask, bucketIndex, targetName)
			}
		}
		srcBucket.TransferClient = ""
		l.srv.EndSourceTransfer()
		l.publishHashmask(mask, bucketIndex, int(bucket.LevelPrimary), targetName)
	}
}

// notifyNewPrimary tells a bucket's previous backup node that its
// source (primary) has moved, per spec.md §4.5: "the source notifies
// the previous backup node of the new primary." The previous backup
// simply repoints its source_node; no protocol round trip is required
// since FINALISE_MIGRATION carries no reply the sender waits on.
func (l *Loop) notifyNewPrimary(backupPeer string, mask, idx uint64, newPrimary string) {
	conn := l.peerConn(backupPeer)
	if conn == nil {
		return
	}
	payload := wire.NewPayloadWriter().
		PutLong(mask).
		PutLong(idx).
		PutInt(int32(bucket.LevelSecondary)).
		PutString([]byte(newPrimary)).
		Bytes()
	conn.Send(wire.NewRequest(wire.FINALISEMIGRATION, 0, payload))
}
