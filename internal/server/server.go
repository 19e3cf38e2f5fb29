// Package server wires together the bucket table, hashmask table,
// node registry and value store into the single-threaded event loop
// described by spec.md §6/§9: one goroutine owns and mutates all
// shared state; connections only decode frames on their own reader
// goroutine and hand them to the loop over a channel.
package server

import (
	"time"

	"github.com/opencluster/opencluster/internal/bucket"
	"github.com/opencluster/opencluster/internal/conninfo"
	"github.com/opencluster/opencluster/internal/hashfn"
	"github.com/opencluster/opencluster/internal/hashmask"
	"github.com/opencluster/opencluster/internal/item"
	"github.com/opencluster/opencluster/internal/logger"
	"github.com/opencluster/opencluster/internal/migration"
	"github.com/opencluster/opencluster/internal/node"
	"github.com/opencluster/opencluster/internal/wire"
)

// Server owns a node's entire local state: the bucket table, the
// hashmask routing table, the peer registry and any in-flight
// migrations. Every exported method here is meant to be called only
// from the single event-loop goroutine (Loop.Serve, in loop.go) — Server
// itself does no internal locking, by design (spec.md §6).
type Server struct {
	Self conninfo.ConnInfo
	Log  logger.Logger

	Buckets   *bucket.Table
	Hashmask  *hashmask.Table
	Nodes     *node.Registry
	TransitMax int64

	// activeTransfer is this node's one outbound migration, if any
	// (spec.md §4.4: "at most one bucket per node is in transfer at a
	// time" — a node-wide limit on the source role, enforced here and
	// mirrored at the Buckets table level via Bucket.TransferClient).
	activeTransfer *migration.SourceTransfer

	// targetTransfers tracks inbound migrations this node is the
	// target of, keyed by the source peer's name. SYNC_ITEM/
	// SYNC_KEYVALUE frames carry no bucket index (spec.md §6's wire
	// table), so the target recovers which bucket a frame belongs to
	// from which connection it arrived on rather than from the frame
	// itself; keying by peer name is the simplification this implies.
	targetTransfers map[string]*migration.TargetTransfer

	// OnBackupSync is invoked after a successful local SET when the
	// written bucket has a backup node, so the event loop (which owns
	// the actual peer connections) can write the resulting SYNC_ITEM/
	// SYNC_KEYVALUE frames (spec.md §4.7). nil is valid: a Server under
	// test with no wired connections just skips the sync.
	OnBackupSync func(backupNode string, keyHash, mapHash uint64, v item.Value, expires int64, label []byte)
}

// NewFounder returns a Server that has allocated every bucket locally
// at level 0 (spec.md §4: the founder case).
func NewFounder(self conninfo.ConnInfo, mask uint64, transitMax int64, log logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{
		Self:            self,
		Log:             log,
		Buckets:         bucket.NewFounder(mask),
		Hashmask:        hashmask.New(mask),
		Nodes:           node.NewRegistry(),
		TransitMax:      transitMax,
		targetTransfers: make(map[string]*migration.TargetTransfer),
	}
	for i := uint64(0); i <= mask; i++ {
		s.Hashmask.SetPrimary(i, self.Name)
	}
	return s
}

// NewJoiner returns a Server with no local bucket ownership, waiting
// on hashmask broadcasts from peers before accepting client traffic
// (spec.md §4: the non-founder case).
func NewJoiner(self conninfo.ConnInfo, mask uint64, transitMax int64, log logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		Self:            self,
		Log:             log,
		Buckets:         bucket.NewJoiner(mask),
		Hashmask:        hashmask.New(mask),
		Nodes:           node.NewRegistry(),
		TransitMax:      transitMax,
		targetTransfers: make(map[string]*migration.TargetTransfer),
	}
}

// BecomeFounder promotes a joiner into a founder: the bucket table is
// replaced by a fresh founder table at the mask it already joined with,
// so every bucket becomes a locally-owned primary with an empty value
// store and any replica held before is dropped (spec.md §4: "if no peers are
// configured or reachable within the settle timeout, this node is the
// founder"). Meant to be called once, from the settle-timeout path,
// and only while still on the event-loop goroutine — same mutation
// discipline as everything else touching Buckets (spec.md §6).
func (s *Server) BecomeFounder() {
	s.Buckets = bucket.NewFounder(s.Buckets.Mask())
}

// LoadInfo returns this node's current loadlevel triple, the payload
// of a LOADLEVELS reply (spec.md §4.3).
func (s *Server) LoadInfo() migration.LoadInfo {
	return migration.LoadInfo{
		Primary:      s.Buckets.PrimaryCount(),
		Secondary:    s.Buckets.SecondaryCount(),
		Transferring: s.Buckets.Transferring(),
	}
}

// ApplyHashmask applies a remote ownership update to the local
// hashmask table (spec.md §4.1).
func (s *Server) ApplyHashmask(mask, idx uint64, level int, name string) {
	s.Hashmask.Apply(mask, idx, level, name)
}

// BroadcastHashmask is called whenever a local ownership change
// happens; the loop (loop.go) is responsible for actually sending the
// resulting frame to every connected peer and client. This method
// just builds that frame.
func BroadcastHashmask(mask, idx uint64, level int, name string) *wire.Frame {
	payload := wire.NewPayloadWriter().
		PutLong(mask).
		PutLong(idx).
		PutInt(int32(level)).
		PutString([]byte(name)).
		Bytes()
	return wire.NewRequest(wire.HASHMASK, 0, payload)
}

// DrainTick runs one background per-bucket-per-second generation-chain
// drain step across every locally owned bucket (spec.md §3).
func (s *Server) DrainTick() {
	for _, b := range s.Buckets.All() {
		if b.Data != nil {
			b.Data.DrainOne()
		}
	}
}

// ReapTick removes tombstoned items from every locally owned bucket.
func (s *Server) ReapTick(now time.Time) {
	for _, b := range s.Buckets.All() {
		if b.Data != nil {
			b.Data.ReapDeleted()
		}
	}
}

// routeIndex returns the bucket index keyHash maps to under the
// current mask (spec.md §4.7: "idx = key & mask").
func (s *Server) routeIndex(keyHash uint64) uint64 {
	return hashfn.BucketIndex(keyHash, s.Buckets.Mask())
}

// get implements GET(map, key) (spec.md §4.7): a local level-0 hit
// looks the value up directly; anything else returns the known
// primary's name as a redirect hint.
func (s *Server) get(mapHash, keyHash uint64, now int64) (v item.Value, ok bool, redirect string) {
	idx := s.routeIndex(keyHash)
	b := s.Buckets.Bucket(idx)
	if b.Level == bucket.LevelPrimary && b.Data != nil {
		v, ok = b.Data.Get(keyHash, mapHash, now)
		return v, ok, ""
	}
	return item.Value{}, false, s.Hashmask.Primary(idx)
}

// set implements SET(map, key, value, expires) (spec.md §4.7): only
// the primary accepts writes; on success the caller (HandleFrame) is
// responsible for enqueuing a SYNC_ITEM to the backup if one exists.
func (s *Server) set(mapHash, keyHash uint64, v item.Value, expires int64) (ok bool, redirect string) {
	idx := s.routeIndex(keyHash)
	b := s.Buckets.Bucket(idx)
	if b.Level != bucket.LevelPrimary || b.Data == nil {
		return false, s.Hashmask.Primary(idx)
	}
	b.Data.Set(keyHash, mapHash, v, expires, 0)
	return true, ""
}

// BeginSourceTransfer records a new outbound migration, refusing if
// one is already active (spec.md §4.4's node-wide one-at-a-time rule).
func (s *Server) BeginSourceTransfer(idx, mask uint64, target string, transitMax int64) *migration.SourceTransfer {
	if s.activeTransfer != nil {
		return nil
	}
	s.activeTransfer = migration.NewSourceTransfer(idx, mask, target, transitMax)
	return s.activeTransfer
}

// ActiveSourceTransfer returns this node's in-flight outbound
// migration, or nil.
func (s *Server) ActiveSourceTransfer() *migration.SourceTransfer {
	return s.activeTransfer
}

// EndSourceTransfer clears the outbound migration slot, whether it
// finished or rolled back.
func (s *Server) EndSourceTransfer() {
	s.activeTransfer = nil
}

// BeginTargetTransfer records a new inbound migration from source,
// refusing if one from that same source is already active.
func (s *Server) BeginTargetTransfer(source string, idx, mask uint64) *migration.TargetTransfer {
	if _, ok := s.targetTransfers[source]; ok {
		return nil
	}
	t := migration.NewTargetTransfer(idx, mask, source)
	s.targetTransfers[source] = t
	return t
}

// TargetTransfer returns the in-flight inbound migration from source,
// or nil.
func (s *Server) TargetTransfer(source string) *migration.TargetTransfer {
	return s.targetTransfers[source]
}

// EndTargetTransfer clears the inbound migration slot for source.
func (s *Server) EndTargetTransfer(source string) {
	delete(s.targetTransfers, source)
}
