// Package node implements the peer registry and connection state
// machine (spec.md §3: "Node registry: set of known peers with
// connection state machine, retry/backoff, loadlevel timers").
package node

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/opencluster/opencluster/internal/conninfo"
)

// State is a peer connection's position in the handshake state
// machine: unknown -> initialized -> connecting -> authenticating ->
// authenticated -> ready.
type State int

const (
	StateUnknown State = iota
	StateInitialized
	StateConnecting
	StateAuthenticating
	StateAuthenticated
	StateReady
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// LoadLevel is the last loadlevel gossip reply received from a peer
// (spec.md §4.3): {primary_count, secondary_count, bucket_transfer_flag}.
type LoadLevel struct {
	PrimaryCount   int
	SecondaryCount int
	Transferring   bool
	At             time.Time
}

// Total returns PrimaryCount + SecondaryCount, the peer's replica load.
func (l LoadLevel) Total() int { return l.PrimaryCount + l.SecondaryCount }

// Node is one known peer.
type Node struct {
	Name  string
	Conn  conninfo.ConnInfo
	State State

	LoadLevel LoadLevel

	// LastBucket is a node-level counterpart of the bucket-level
	// last_bucket tie-break (spec §4.4). Nothing sets or reads it: the
	// decision procedure applies the tie-break per bucket, through
	// bucket.Bucket.LastBucket.
	LastBucket bool

	backoff *backoff.ExponentialBackOff
}

// New returns a freshly registered, not-yet-connected node.
func New(name string, ci conninfo.ConnInfo) *Node {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // retry forever; the event loop decides when to give up
	return &Node{Name: name, Conn: ci, State: StateInitialized, backoff: bo}
}

// NextBackOff returns how long to wait before the next reconnect
// attempt and advances the backoff's internal state.
func (n *Node) NextBackOff() time.Duration {
	return n.backoff.NextBackOff()
}

// ResetBackOff clears the backoff after a successful connection.
func (n *Node) ResetBackOff() {
	n.backoff.Reset()
}

// Registry holds every known peer, keyed by canonical name.
type Registry struct {
	nodes map[string]*Node
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]*Node)}
}

// Add registers a peer, replacing any existing entry under the same
// name.
func (r *Registry) Add(n *Node) {
	r.nodes[n.Name] = n
}

// Remove drops a peer from the registry.
func (r *Registry) Remove(name string) {
	delete(r.nodes, name)
}

// Get returns the named peer, or nil if unknown.
func (r *Registry) Get(name string) *Node {
	return r.nodes[name]
}

// All returns every registered peer. Order is unspecified; callers
// that need a stable scan order (the migration decision procedure's
// ascending bucket-index tie-break, spec §4.4) sort by name themselves.
func (r *Registry) All() []*Node {
	out := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	return out
}

// Len returns the number of registered peers.
func (r *Registry) Len() int { return len(r.nodes) }

// ActiveCount returns the number of peers in StateReady, plus the
// local node itself (the "total active node count N" spec §4.4 uses
// for ideal-load calculations).
func (r *Registry) ActiveCount() int {
	n := 1 // this node
	for _, peer := range r.nodes {
		if peer.State == StateReady {
			n++
		}
	}
	return n
}
