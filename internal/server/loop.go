package server

import (
	"context"
	"net"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/opencluster/opencluster/dscp"
	"github.com/opencluster/opencluster/internal/bucket"
	"github.com/opencluster/opencluster/internal/clientconn"
	"github.com/opencluster/opencluster/internal/item"
	"github.com/opencluster/opencluster/internal/migration"
	"github.com/opencluster/opencluster/internal/node"
	"github.com/opencluster/opencluster/internal/wire"
)

// ClusterTrafficTOS marks peer-to-peer connections (gossip, migration
// streaming) CS6, the conventional DSCP class for network-control
// traffic, so they keep priority over client GET/SET traffic on a
// congested link. Exported so cmd/oc-serverd can mark its inbound
// listener the same way, not just outbound DialPeer connections.
const ClusterTrafficTOS = 0xC0

var peerDialer = net.Dialer{
	Control: func(network, address string, c syscall.RawConn) error {
		return dscp.SetTOS(network, c, ClusterTrafficTOS)
	},
}

// inbound is one frame arriving on some connection, tagged with the
// connection it arrived on so the single event-loop goroutine that
// consumes these can write the reply (or route a peer message) back
// to the right place (spec.md §9: "a dedicated reader goroutine per
// connection pushing decoded frames onto a channel").
type inbound struct {
	conn *clientconn.Conn
	peer string // node name if this is a peer connection, else ""
	f    *wire.Frame
	err  error
}

// Loop is the single goroutine that owns Server and every connection's
// write side. All bucket-table, hashmask-table and node-registry
// mutation happens here, never on a reader goroutine (spec.md §6).
type Loop struct {
	srv   *Server
	conns chan inbound

	loadLevelInterval time.Duration
	tickInterval      time.Duration

	// loopFuncs lets a migration's own driver goroutine (runSwitch,
	// runMigration) safely mutate Server/bucket-table state once a
	// network round trip completes, without those goroutines touching
	// shared state directly (spec.md §6: only the event loop mutates
	// the bucket table).
	loopFuncs chan func()

	peerMu    sync.RWMutex
	peerConns map[string]*clientconn.Conn
}

// NewLoop returns a Loop driving srv.
func NewLoop(srv *Server, loadLevelInterval time.Duration) *Loop {
	if loadLevelInterval <= 0 {
		loadLevelInterval = 5 * time.Second
	}
	l := &Loop{
		srv:               srv,
		conns:             make(chan inbound, 64),
		loadLevelInterval: loadLevelInterval,
		tickInterval:      time.Second,
		loopFuncs:         make(chan func(), 16),
		peerConns:         make(map[string]*clientconn.Conn),
	}
	srv.OnBackupSync = l.sendBackupSync
	return l
}

// RunOnLoop schedules fn to run on the event-loop goroutine, the same
// hand-back mechanism migration drivers use (spec.md §6: only the
// event loop mutates Server/bucket-table state). Exposed for
// lifecycle code outside this package, such as the settle-timeout
// watchdog that may promote a joiner to a founder.
func (l *Loop) RunOnLoop(fn func()) {
	l.loopFuncs <- fn
}

// sendBackupSync is Server.OnBackupSync's wiring: writes the
// SYNC_ITEM (and SYNC_KEYVALUE, if a label was set) that keeps a
// bucket's backup copy current after a local SET (spec.md §4.7). It
// always runs on the same goroutine that called HandleFrame (the
// event loop, for a real connection), so it only ever sends — nothing
// here waits for the backup's ack.
func (l *Loop) sendBackupSync(backupNode string, keyHash, mapHash uint64, v item.Value, expires int64, label []byte) {
	conn := l.peerConn(backupNode)
	if conn == nil {
		return
	}
	var expiresIn int32
	if expires != 0 {
		if d := expires - time.Now().Unix(); d > 0 {
			expiresIn = int32(d)
		}
	}
	payload := wire.NewPayloadWriter().PutLong(mapHash).PutLong(keyHash).PutInt(expiresIn).PutValue(v).Bytes()
	if err := conn.Send(wire.NewRequest(wire.SYNCITEM, conn.NextUserID(), payload)); err != nil {
		l.srv.Log.Errorf("server: backup sync SYNC_ITEM to %s: %s", backupNode, err)
		return
	}
	if len(label) > 0 {
		labelPayload := wire.NewPayloadWriter().PutLong(keyHash).PutInt(expiresIn).PutString(label).Bytes()
		if err := conn.Send(wire.NewRequest(wire.SYNCKEYVALUE, conn.NextUserID(), labelPayload)); err != nil {
			l.srv.Log.Errorf("server: backup sync SYNC_KEYVALUE to %s: %s", backupNode, err)
		}
	}
}

// setPeerConn records (or clears, if c is nil) the live connection to
// peer name, for rebroadcastHashmask and the migration drivers to send
// on. Safe to call from any goroutine.
func (l *Loop) setPeerConn(name string, c *clientconn.Conn) {
	l.peerMu.Lock()
	defer l.peerMu.Unlock()
	if c == nil {
		delete(l.peerConns, name)
		return
	}
	l.peerConns[name] = c
}

// peerConn returns the live connection to peer name, or nil.
func (l *Loop) peerConn(name string) *clientconn.Conn {
	l.peerMu.Lock()
	defer l.peerMu.Unlock()
	return l.peerConns[name]
}

// allPeerConns returns a snapshot of every live peer connection, keyed
// by name.
func (l *Loop) allPeerConns() map[string]*clientconn.Conn {
	l.peerMu.Lock()
	defer l.peerMu.Unlock()
	out := make(map[string]*clientconn.Conn, len(l.peerConns))
	for k, v := range l.peerConns {
		out[k] = v
	}
	return out
}

// Accept starts a reader goroutine for an already-accepted or dialed
// connection, optionally tagged with the peer's name once known.
func (l *Loop) Accept(nc net.Conn, peerName string) *clientconn.Conn {
	c := clientconn.New(nc)
	c.SetPeerName(peerName)
	go func() {
		for {
			f, err := wire.ReadFrame(c.Conn)
			if err != nil {
				l.conns <- inbound{conn: c, peer: c.Peer(), err: err}
				return
			}
			if f.Header.IsReply() {
				if c.Resolve(f) {
					continue
				}
			}
			l.conns <- inbound{conn: c, peer: c.Peer(), f: f}
		}
	}()
	return c
}

// Serve accepts connections on ln and runs the event loop until ctx is
// canceled.
func (l *Loop) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	accepted := make(chan net.Conn)
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				close(accepted)
				return
			}
			accepted <- nc
		}
	}()

	loadLevelTicker := time.NewTicker(l.loadLevelInterval)
	defer loadLevelTicker.Stop()
	secondTicker := time.NewTicker(l.tickInterval)
	defer secondTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case nc, ok := <-accepted:
			if !ok {
				accepted = nil
				continue
			}
			l.Accept(nc, "")
		case ev := <-l.conns:
			l.handleInbound(ev)
		case fn := <-l.loopFuncs:
			fn()
		case <-loadLevelTicker.C:
			l.runLoadLevelRound()
		case <-secondTicker.C:
			l.srv.DrainTick()
			l.srv.ReapTick(time.Now())
		}
	}
}

func (l *Loop) handleInbound(ev inbound) {
	if ev.err != nil {
		l.handleConnLost(ev)
		return
	}
	switch ev.f.Header.Command {
	case wire.ACCEPTBUCKET, wire.SYNCITEM, wire.SYNCKEYVALUE, wire.CONTROLBUCKET, wire.FINALISEMIGRATION:
		l.handleMigrationFrame(ev)
		return
	}
	if ev.f.Header.Command == wire.SERVERHELLO {
		l.handleInboundServerHello(ev)
	}
	reply, err := l.srv.HandleFrame(ev.f, time.Now().Unix())
	if err != nil {
		l.srv.Log.Errorf("server: handling %v: %s", ev.f.Header.Command, err)
		return
	}
	if reply != nil {
		reply.Header.UserID = ev.f.Header.UserID
		if err := ev.conn.Send(reply); err != nil {
			l.srv.Log.Errorf("server: writing reply: %s", err)
		}
	}
	if ev.f.Header.Command == wire.HASHMASK {
		l.rebroadcastHashmask(ev.f, ev.conn)
	}
}

// rebroadcastHashmask forwards a HASHMASK update to every other
// connected peer and client (spec.md §4.1: "broadcast to all connected
// clients and peers"), skipping the connection it arrived on.
func (l *Loop) rebroadcastHashmask(f *wire.Frame, from *clientconn.Conn) {
	req := wire.NewRequest(wire.HASHMASK, 0, f.Payload)
	for name, c := range l.allPeerConns() {
		if c == from {
			continue
		}
		if err := c.Send(req); err != nil {
			l.srv.Log.Errorf("server: rebroadcasting hashmask to %s: %s", name, err)
		}
	}
}

// handleInboundServerHello registers an accepted (not dialed) peer
// connection once its SERVERHELLO names it, so rebroadcastHashmask and
// the migration drivers can reach it — DialPeer registers the dialing
// side directly, this covers the accepting side of the same handshake
// (spec.md §4.8: "authenticating begins immediately after TCP connect
// by sending SERVERHELLO").
func (l *Loop) handleInboundServerHello(ev inbound) {
	ci, err := l.srv.parseServerHello(ev.f.Payload)
	if err != nil {
		return
	}
	ev.conn.SetPeerName(ci.Name)
	l.setPeerConn(ci.Name, ev.conn)
	if n := l.srv.Nodes.Get(ci.Name); n != nil {
		n.State = node.StateReady
	} else {
		n := node.New(ci.Name, ci)
		n.State = node.StateReady
		l.srv.Nodes.Add(n)
	}
}

func (l *Loop) handleConnLost(ev inbound) {
	ev.conn.Abandon()
	if ev.peer != "" {
		if n := l.srv.Nodes.Get(ev.peer); n != nil {
			n.State = node.StateUnknown
		}
		l.setPeerConn(ev.peer, nil)
		// A lost connection mid-migration rolls both sides back to
		// pre-migration state (spec.md §4.5's failure path).
		if t := l.srv.ActiveSourceTransfer(); t != nil && t.Target == ev.peer {
			t.Rollback()
			l.srv.EndSourceTransfer()
			l.srv.Buckets.Bucket(t.BucketIndex).TransferClient = ""
		}
		if t := l.srv.TargetTransfer(ev.peer); t != nil {
			t.Rollback()
			b := l.srv.Buckets.Bucket(t.BucketIndex)
			if b.Level == bucket.LevelNone {
				b.Data = nil // discard whatever partial data streamed in
			}
			l.srv.EndTargetTransfer(ev.peer)
		}
	}
}

// runLoadLevelRound sends a LOADLEVELS request to every ready peer and
// fires off a goroutine to await each reply (spec.md §4.3: "every
// T_loadlevel seconds, request the loadlevel triple from every known
// peer"). Each reply is evaluated against the migration decision
// procedure as it arrives, not gathered into a barrier — one slow or
// unreachable peer never delays deciding on the others (§4.4 actions
// are evaluated and applied per target peer independently anyway,
// bounded node-wide by the single activeTransfer latch).
func (l *Loop) runLoadLevelRound() {
	// A bucket flagged LastBucket by the previous tick's decisions has
	// now had its one skipped round (spec.md §4.4); clear it here, at
	// the start of this tick and still on the event-loop goroutine,
	// before any of this tick's (asynchronous) decisions can see it.
	for _, idx := range l.srv.Buckets.LastBucketIndices() {
		l.srv.Buckets.Bucket(idx).LastBucket = false
	}

	peers := l.srv.Nodes.All()
	sort.Slice(peers, func(i, j int) bool { return peers[i].Name < peers[j].Name })

	for _, n := range peers {
		if n.State != node.StateReady {
			continue
		}
		conn := l.peerConn(n.Name)
		if conn == nil {
			continue
		}
		go l.queryLoadLevel(conn, n)
	}
}

// queryLoadLevel issues one LOADLEVELS round trip to n's connection
// and, on a successful reply, hands the decision for this peer back to
// the event loop via loopFuncs (this goroutine must never touch
// node.Node, bucket.Table or Server directly — spec.md §6).
func (l *Loop) queryLoadLevel(conn *clientconn.Conn, n *node.Node) {
	reply, err := roundTrip(conn, wire.NewRequest(wire.LOADLEVELS, conn.NextUserID(), nil))
	if err != nil || reply.Header.Command != wire.LOADLEVELSREPLY {
		return
	}
	r := wire.NewPayloadReader(reply.Payload)
	primary, err := r.ReadInt()
	if err != nil {
		return
	}
	secondary, err := r.ReadInt()
	if err != nil {
		return
	}
	transferring, err := r.ReadInt()
	if err != nil {
		return
	}
	l.loopFuncs <- func() {
		// n.State may have flipped since this round trip started (the
		// connection could already be torn down); a stale reply for a
		// peer no longer ready is simply dropped.
		if n.State != node.StateReady {
			return
		}
		n.LoadLevel = node.LoadLevel{
			PrimaryCount:   int(primary),
			SecondaryCount: int(secondary),
			Transferring:   transferring != 0,
			At:             time.Now(),
		}
		action := migration.Decide(migration.DecideParams{
			Local:       l.srv.LoadInfo(),
			Target:      migration.LoadInfo{Primary: n.LoadLevel.PrimaryCount, Secondary: n.LoadLevel.SecondaryCount, Transferring: n.LoadLevel.Transferring},
			TargetName:  n.Name,
			Mask:        l.srv.Buckets.Mask(),
			ActiveNodes: l.srv.Nodes.ActiveCount(),
			Buckets:     l.srv.Buckets,
			NodeTotal: func(name string) int {
				if peer := l.srv.Nodes.Get(name); peer != nil {
					return peer.LoadLevel.Total()
				}
				return 0
			},
		})
		l.applyAction(action, n)
	}
}

func (l *Loop) applyAction(a migration.Action, target *node.Node) {
	if a.Kind == migration.ActionNone {
		return
	}
	if l.srv.ActiveSourceTransfer() != nil {
		return // node-wide one-outbound-migration-at-a-time (spec.md §4.4)
	}
	conn := l.peerConn(target.Name)
	if conn == nil {
		return
	}
	b := l.srv.Buckets.Bucket(a.BucketIndex)
	b.LastBucket = true
	l.srv.Log.Infof("migration: %s on bucket %d targeting %s", a.Kind, a.BucketIndex, target.Name)

	switch a.Kind {
	case migration.ActionSwitch:
		b.Promoting = true
		go l.runSwitch(conn, a.BucketIndex, target.Name)
	case migration.ActionNoBackupFill, migration.ActionTransferForBalance:
		b.TransferClient = target.Name
		t := l.srv.BeginSourceTransfer(a.BucketIndex, l.srv.Buckets.Mask(), target.Name, l.srv.TransitMax)
		if t == nil {
			return
		}
		// Snapshot the bucket's contents here, on the event-loop
		// goroutine, since b.Data is otherwise only ever touched from
		// this goroutine (spec.md §6). The streaming goroutine then
		// only ever talks to the wire, never to shared state directly.
		items := snapshotBucket(b, time.Now().Unix())
		prevBackup := b.BackupNode
		go l.runMigration(conn, t, a.Kind, items, prevBackup)
	}
}

// migrationItem is one live record captured for streaming during a
// bucket transfer (spec.md §4.5's SYNC_ITEM/SYNC_KEYVALUE payloads).
type migrationItem struct {
	keyHash, mapHash uint64
	v                item.Value
	expires          int64
	label            []byte
}

func snapshotBucket(b *bucket.Bucket, now int64) []migrationItem {
	var items []migrationItem
	if b.Data == nil {
		return items
	}
	b.Data.Each(now, func(keyHash, mapHash uint64, v item.Value, expires int64, label []byte) {
		items = append(items, migrationItem{keyHash: keyHash, mapHash: mapHash, v: v, expires: expires, label: label})
	})
	return items
}

// DialPeer attempts to connect to a configured peer, retrying with the
// node's own backoff on failure (spec.md §3's connection state
// machine). It blocks until ctx is canceled.
func (l *Loop) DialPeer(ctx context.Context, n *node.Node) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n.State = node.StateConnecting
		nc, err := peerDialer.DialContext(ctx, "tcp", n.Conn.Addr())
		if err != nil {
			n.State = node.StateUnknown
			select {
			case <-time.After(n.NextBackOff()):
			case <-ctx.Done():
				return
			}
			continue
		}
		n.ResetBackOff()
		n.State = node.StateAuthenticating
		c := l.Accept(nc, n.Name)
		if err := l.sendHello(c); err != nil {
			n.State = node.StateUnknown
			nc.Close()
			continue
		}
		n.State = node.StateReady
		l.setPeerConn(n.Name, c)
		<-ctx.Done()
		l.setPeerConn(n.Name, nil)
		nc.Close()
		return
	}
}

func (l *Loop) sendHello(c *clientconn.Conn) error {
	payload := wire.NewPayloadWriter().PutString([]byte(l.srv.Self.String())).PutString(nil).Bytes()
	userID := c.NextUserID()
	replyCh := c.Register(userID, wire.ACK)
	if err := c.Send(wire.NewRequest(wire.SERVERHELLO, userID, payload)); err != nil {
		return err
	}
	select {
	case <-replyCh:
		return nil
	case <-time.After(5 * time.Second):
		return context.DeadlineExceeded
	}
}

