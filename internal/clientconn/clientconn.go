// Package clientconn implements the shared connection record used for
// every socket OpenCluster holds open, whether to a client or to a
// peer node (spec.md §9 design note: "a single connection record with
// optional peer_node_id"). One Conn per net.Conn; the single
// event-loop goroutine owns all of them, a dedicated reader goroutine
// per Conn only decodes frames and pushes them onto a channel.
package clientconn

import (
	"net"
	"sync"

	"github.com/opencluster/opencluster/internal/wire"
)

// Pending is an in-flight request this node issued, awaiting a reply
// keyed by the userid it was sent under.
type Pending struct {
	Command wire.Command
	Reply   chan *wire.Frame
}

// Conn wraps one accepted or dialed net.Conn with the bookkeeping the
// event loop needs: a pending-request table keyed by userid (spec
// §6: "userid is chosen by the requester and echoed by the replier"),
// and an optional peer name when this connection belongs to a node
// rather than a bare client.
type Conn struct {
	net.Conn

	// PeerName is the remote node's canonical name once known from a
	// HELLO/SERVERHELLO handshake, or "" for a plain client connection.
	PeerName string

	mu      sync.Mutex
	nextID  uint32
	pending map[uint32]*Pending
}

// New wraps nc.
func New(nc net.Conn) *Conn {
	return &Conn{Conn: nc, pending: make(map[uint32]*Pending)}
}

// SetPeerName records the remote node's canonical name once a
// handshake identifies it. Safe to call from any goroutine; the
// companion Peer() read is how the connection's own reader goroutine
// picks up the change to tag frames it pushes onto the event loop.
func (c *Conn) SetPeerName(name string) {
	c.mu.Lock()
	c.PeerName = name
	c.mu.Unlock()
}

// Peer returns the connection's current peer name, "" if still
// unidentified.
func (c *Conn) Peer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.PeerName
}

// NextUserID returns a fresh userid for a new outbound request on this
// connection, wrapping around uint32 space.
func (c *Conn) NextUserID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return c.nextID
}

// Register records that userID now awaits a reply of kind cmd, and
// returns the channel the reply will be delivered on.
func (c *Conn) Register(userID uint32, cmd wire.Command) <-chan *wire.Frame {
	ch := make(chan *wire.Frame, 1)
	c.mu.Lock()
	c.pending[userID] = &Pending{Command: cmd, Reply: ch}
	c.mu.Unlock()
	return ch
}

// Resolve delivers f to the pending request registered under its
// UserID, if any, and reports whether one was found. The caller is
// expected to have already confirmed f.Header.IsReply().
func (c *Conn) Resolve(f *wire.Frame) bool {
	c.mu.Lock()
	p, ok := c.pending[f.Header.UserID]
	if ok {
		delete(c.pending, f.Header.UserID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	p.Reply <- f
	return true
}

// Abandon removes every pending request and closes its reply channel
// without a value, used when the connection is torn down so callers
// blocked on a reply unblock instead of waiting forever.
func (c *Conn) Abandon() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint32]*Pending)
	c.mu.Unlock()
	for _, p := range pending {
		close(p.Reply)
	}
}

// Send writes f to the underlying connection. Framing a reply's
// Header.UserID must already match the request it answers.
func (c *Conn) Send(f *wire.Frame) error {
	return wire.WriteFrame(c.Conn, f)
}

// ReadLoop reads frames from the connection until error or close,
// pushing each decoded frame onto frames. It is meant to run in its
// own goroutine per spec.md §9's "one reader goroutine per connection
// pushing decoded frames onto a channel" concurrency model; all frame
// handling and state mutation happens where frames are received, on
// the single event-loop goroutine.
func (c *Conn) ReadLoop(frames chan<- *wire.Frame) error {
	defer close(frames)
	for {
		f, err := wire.ReadFrame(c.Conn)
		if err != nil {
			return err
		}
		frames <- f
	}
}
