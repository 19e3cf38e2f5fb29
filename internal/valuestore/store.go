// Package valuestore implements the per-bucket two-level value store
// described in spec §3: key_hash -> maplist{item_key, label, map_hash
// -> item}, with a linked chain of older "generations" left behind by
// mask splits (spec §4.2).
//
// The teacher repo's hash/map.go reimplements Go's runtime map for a
// custom hasher/equals pair. OpenCluster's keys are already plain
// uint64s, so a reimplemented hash table buys nothing over the
// builtin map — see DESIGN.md. What OpenCluster does carry over from
// that file is its discipline: small, explicit structs with no hidden
// global state, and an iterator-style walk for the one place a custom
// traversal order matters here (draining an old generation).
package valuestore

import (
	"sync/atomic"

	"github.com/opencluster/opencluster/internal/hashfn"
	"github.com/opencluster/opencluster/internal/item"
)

// maplist is the set of map_hash -> Item entries sharing one key_hash,
// plus the optional human-readable label for that key.
type maplist struct {
	itemKey uint64
	label   *item.KeyValueLabel
	items   map[uint64]*item.Item
}

func newMaplist(itemKey uint64) *maplist {
	return &maplist{itemKey: itemKey, items: make(map[uint64]*item.Item)}
}

// generation is one version of the key_hash -> maplist table. Head is
// the live generation; next, if non-nil, is the generation that
// existed before the last split this bucket went through.
type generation struct {
	maplists map[uint64]*maplist
	next     *generation
	// refs counts how many head generations list this generation as
	// their next pointer. It exists to make split fan-out a testable
	// property (spec §8: "refcount incremented accordingly"); Go's GC
	// does the actual memory management regardless.
	refs *int32
}

func newGeneration() *generation {
	return &generation{maplists: make(map[uint64]*maplist), refs: new(int32)}
}

// Store is a bucket's value store: a head generation plus an optional
// chain of older generations. index/mask identify which bucket this
// store belongs to under the current hashmask, so the background
// drain (DrainOne) can tell which keys in a shared older generation
// are actually this bucket's to claim after a split fans one old
// generation out to two new bucket indices.
type Store struct {
	head       *generation
	index      uint64
	mask       uint64
}

// New returns an empty value store with no older generations, for
// bucket index under mask.
func New(index, mask uint64) *Store {
	return &Store{head: newGeneration(), index: index, mask: mask}
}

// NewChained returns a new, empty-headed store whose next generation
// is old's current head, reference-counted per spec §4.2. Used by the
// bucket table's split algorithm: every new bucket index that maps
// back to the same old index shares the same old generation via its
// own NewChained store.
func NewChained(old *Store, index, mask uint64) *Store {
	atomic.AddInt32(old.head.refs, 1)
	return &Store{
		head: &generation{
			maplists: make(map[uint64]*maplist),
			next:     old.head,
			refs:     new(int32),
		},
		index: index,
		mask:  mask,
	}
}

// ChainDepth returns the number of generations older than the head,
// for tests.
func (s *Store) ChainDepth() int {
	n := 0
	for g := s.head.next; g != nil; g = g.next {
		n++
	}
	return n
}

// ChainRefCount returns the reference count of the generation directly
// behind the head, or 0 if there is none.
func (s *Store) ChainRefCount() int32 {
	if s.head.next == nil {
		return 0
	}
	return atomic.LoadInt32(s.head.next.refs)
}

// HeadLen returns the number of distinct key_hashes in the head
// generation, for tests.
func (s *Store) HeadLen() int {
	return len(s.head.maplists)
}

// Get looks up (keyHash, mapHash). A hit in an older generation moves
// that one item into the head generation (creating the head's maplist
// for keyHash if needed); a key found in an older generation without
// this map_hash has its whole maplist moved into the head.
// Expired items are removed in place and reported as missing.
func (s *Store) Get(keyHash, mapHash uint64, nowUnix int64) (item.Value, bool) {
	if ml, ok := s.head.maplists[keyHash]; ok {
		if it, ok := ml.items[mapHash]; ok {
			if it.Expired(nowUnix) {
				delete(ml.items, mapHash)
				s.compactMaplist(s.head, keyHash, ml)
				return item.Value{}, false
			}
			return it.Value, true
		}
	}

	prev := s.head
	for g := s.head.next; g != nil; g = g.next {
		ml, ok := g.maplists[keyHash]
		if !ok {
			prev = g
			continue
		}
		it, ok := ml.items[mapHash]
		if !ok {
			// The key exists in this generation but not this map_hash;
			// still worth migrating the maplist forward since we now
			// know it's the freshest copy of that key_hash.
			s.migrateMaplist(g, keyHash, ml)
			s.compactGeneration(prev, g)
			return item.Value{}, false
		}
		delete(ml.items, mapHash)
		if it.Expired(nowUnix) {
			s.compactMaplist(g, keyHash, ml)
			s.compactGeneration(prev, g)
			return item.Value{}, false
		}
		s.insertHead(keyHash, mapHash, it)
		s.compactMaplist(g, keyHash, ml)
		s.compactGeneration(prev, g)
		return it.Value, true
	}
	return item.Value{}, false
}

// Set stores a value for (keyHash, mapHash). If an older generation
// already has a maplist for keyHash, it is migrated to the head first
// so the key's label and sibling map entries aren't silently
// shadowed.
func (s *Store) Set(keyHash, mapHash uint64, v item.Value, expires int64, migrateSyncTag uint64) {
	ml := s.ensureHeadMaplist(keyHash)
	ml.items[mapHash] = &item.Item{
		ItemKey:        keyHash,
		MapKey:         mapHash,
		Expires:        expires,
		Value:          v,
		MigrateSyncTag: migrateSyncTag,
	}
}

// SetLabel stores the human-readable label for keyHash (SET-KEYVALUE,
// spec §4.7).
func (s *Store) SetLabel(keyHash uint64, label []byte, expires int64) {
	ml := s.ensureHeadMaplist(keyHash)
	ml.label = &item.KeyValueLabel{Key: keyHash, Expires: expires, Label: label}
}

// Label returns the label for keyHash, if any, lazily migrating the
// maplist to head on a chain hit.
func (s *Store) Label(keyHash uint64) (*item.KeyValueLabel, bool) {
	if ml, ok := s.head.maplists[keyHash]; ok && ml.label != nil {
		return ml.label, true
	}
	prev := s.head
	for g := s.head.next; g != nil; g = g.next {
		if ml, ok := g.maplists[keyHash]; ok {
			s.migrateMaplist(g, keyHash, ml)
			s.compactGeneration(prev, g)
			if ml.label == nil {
				return nil, false
			}
			return ml.label, true
		}
		prev = g
	}
	return nil, false
}

// Delete marks (keyHash, mapHash) as a tombstone (spec §4.7: "DELETE
// is represented by setting the value tag to deleted and scheduling
// removal"). ReapDeleted performs the scheduled physical removal.
func (s *Store) Delete(keyHash, mapHash uint64) {
	ml := s.ensureHeadMaplist(keyHash)
	if it, ok := ml.items[mapHash]; ok {
		it.Value = item.DeletedValue()
		return
	}
	ml.items[mapHash] = &item.Item{ItemKey: keyHash, MapKey: mapHash, Value: item.DeletedValue()}
}

// ReapDeleted physically removes every tombstoned item from the head
// generation and returns the count removed.
func (s *Store) ReapDeleted() int {
	removed := 0
	for keyHash, ml := range s.head.maplists {
		for mapHash, it := range ml.items {
			if it.Value.Deleted() {
				delete(ml.items, mapHash)
				removed++
			}
		}
		if len(ml.items) == 0 && ml.label == nil {
			delete(s.head.maplists, keyHash)
		}
	}
	return removed
}

// DrainOne walks one item out of the oldest reachable generation and
// migrates it into the head, as the background per-bucket tick does
// (spec §3: "a background tick also walks one old-bucket item per
// second"). It reports whether there was anything to drain.
//
// A split leaves one old generation shared by the two new buckets it
// fanned out to (spec §4.2); that shared generation still holds keys
// that belong to the sibling bucket under the new mask, not this one.
// DrainOne only claims maplists whose key_hash still routes to this
// bucket's index, leaving the rest for the sibling's own drain to
// claim.
func (s *Store) DrainOne() bool {
	// Walk to the oldest (tail) generation; that's the one the spec
	// wants drained first, since it's the one blocking full release of
	// the chain.
	prev := s.head
	g := s.head.next
	if g == nil {
		return false
	}
	for g.next != nil {
		prev = g
		g = g.next
	}
	for keyHash, ml := range g.maplists {
		if hashfn.BucketIndex(keyHash, s.mask) != s.index {
			continue
		}
		s.migrateMaplist(g, keyHash, ml)
		s.compactGeneration(prev, g)
		return true
	}
	// Nothing in the tail generation belongs to this bucket right now;
	// try to compact it in case the sibling already claimed everything.
	s.compactGeneration(prev, g)
	return false
}

// Each calls fn once for every live (non-deleted, non-expired) item in
// the head generation, in no particular order. It is used to stream a
// bucket's contents during migration (spec §4.5); callers must have
// already drained older generations forward (DrainOne, or a full
// ReapDeleted/Get sweep) since Each does not walk the chain.
func (s *Store) Each(nowUnix int64, fn func(keyHash, mapHash uint64, v item.Value, expires int64, label []byte)) {
	for keyHash, ml := range s.head.maplists {
		var label []byte
		if ml.label != nil {
			label = ml.label.Label
		}
		for mapHash, it := range ml.items {
			if it.Value.Deleted() || it.Expired(nowUnix) {
				continue
			}
			fn(keyHash, mapHash, it.Value, it.Expires, label)
		}
	}
}

// ensureHeadMaplist returns the head's maplist for keyHash, migrating
// it forward from an older generation first if one exists there, and
// creating it fresh otherwise.
func (s *Store) ensureHeadMaplist(keyHash uint64) *maplist {
	if ml, ok := s.head.maplists[keyHash]; ok {
		return ml
	}
	prev := s.head
	for g := s.head.next; g != nil; g = g.next {
		if ml, ok := g.maplists[keyHash]; ok {
			s.migrateMaplist(g, keyHash, ml)
			s.compactGeneration(prev, g)
			return s.head.maplists[keyHash]
		}
		prev = g
	}
	ml := newMaplist(keyHash)
	s.head.maplists[keyHash] = ml
	return ml
}

// migrateMaplist unlinks ml from g and installs it (or merges it into)
// the head generation.
func (s *Store) migrateMaplist(g *generation, keyHash uint64, ml *maplist) {
	delete(g.maplists, keyHash)
	if existing, ok := s.head.maplists[keyHash]; ok {
		for mapHash, it := range ml.items {
			if _, already := existing.items[mapHash]; !already {
				existing.items[mapHash] = it
			}
		}
		if existing.label == nil {
			existing.label = ml.label
		}
		return
	}
	s.head.maplists[keyHash] = ml
}

// insertHead installs a single item directly into the head generation
// without disturbing any other maplist that might already be there.
func (s *Store) insertHead(keyHash, mapHash uint64, it *item.Item) {
	ml, ok := s.head.maplists[keyHash]
	if !ok {
		ml = newMaplist(keyHash)
		s.head.maplists[keyHash] = ml
	}
	ml.items[mapHash] = it
}

// compactMaplist removes an emptied maplist from generation g.
func (s *Store) compactMaplist(g *generation, keyHash uint64, ml *maplist) {
	if len(ml.items) == 0 && ml.label == nil {
		delete(g.maplists, keyHash)
	}
}

// compactGeneration unlinks g from the chain, starting at prev, once g
// holds no more maplists, decrementing its reference count.
func (s *Store) compactGeneration(prev *generation, g *generation) {
	if len(g.maplists) != 0 {
		return
	}
	if prev == s.head {
		s.head.next = g.next
	} else {
		prev.next = g.next
	}
	atomic.AddInt32(g.refs, -1)
}
