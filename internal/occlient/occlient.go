// Package occlient is a minimal client for OpenCluster's wire protocol,
// the same role the teacher's cmd/occlient plays for its gRPC service:
// dial a node, issue requests, decode replies. Used by the oc-get/
// oc-set CLI tools and by integration tests that want a real socket
// without standing up a full internal/server.Loop.
package occlient

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/opencluster/opencluster/internal/clientconn"
	"github.com/opencluster/opencluster/internal/hashfn"
	"github.com/opencluster/opencluster/internal/item"
	"github.com/opencluster/opencluster/internal/wire"
)

// DefaultTimeout bounds how long a single request waits for its reply.
const DefaultTimeout = 5 * time.Second

// Client is a single connection to one OpenCluster node.
type Client struct {
	conn    *clientconn.Conn
	timeout time.Duration
}

// Dial connects to addr ("ip:port") and starts its background reader.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("occlient: dial %s: %w", addr, err)
	}
	c := &Client{conn: clientconn.New(nc), timeout: DefaultTimeout}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	for {
		f, err := wire.ReadFrame(c.conn.Conn)
		if err != nil {
			c.conn.Abandon()
			return
		}
		if f.Header.IsReply() {
			c.conn.Resolve(f)
		}
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) roundTrip(cmd, replyCmd wire.Command, payload []byte) (*wire.Frame, error) {
	userID := c.conn.NextUserID()
	replyCh := c.conn.Register(userID, replyCmd)
	if err := c.conn.Send(wire.NewRequest(cmd, userID, payload)); err != nil {
		return nil, err
	}
	select {
	case f, ok := <-replyCh:
		if !ok {
			return nil, fmt.Errorf("occlient: connection closed waiting for %v reply", cmd)
		}
		return f, nil
	case <-time.After(c.timeout):
		return nil, fmt.Errorf("occlient: timed out waiting for %v reply", cmd)
	}
}

// Ping issues a PING and reports whether an ACK came back.
func (c *Client) Ping() error {
	f, err := c.roundTrip(wire.PING, wire.ACK, nil)
	if err != nil {
		return err
	}
	if f.Header.Command != wire.ACK {
		return fmt.Errorf("occlient: PING got %v, want ACK", f.Header.Command)
	}
	return nil
}

// Result is the outcome of a Get: the decoded value, or a redirect hint
// naming the node the caller should retry against (spec.md §4.7's
// client-side redirect-follow loop; see DESIGN.md (d) for the wire
// encoding this decodes).
type Result struct {
	Value    item.Value
	Found    bool
	Redirect string
}

// Get reads one key. mapName/key are hashed with hashfn.Hash before
// being sent, mirroring how internal/server routes by hash rather than
// by the original strings.
func (c *Client) Get(mapName, key string) (Result, error) {
	mapHash := hashfn.Hash(mapName)
	keyHash := hashfn.Hash(key)
	payload := wire.NewPayloadWriter().PutLong(mapHash).PutLong(keyHash).Bytes()
	f, err := c.roundTrip(wire.GETINT, wire.DATAINT, payload)
	if err != nil {
		return Result{}, err
	}
	r := wire.NewPayloadReader(f.Payload)
	if _, err := r.ReadLong(); err != nil { // map
		return Result{}, err
	}
	if _, err := r.ReadLong(); err != nil { // key
		return Result{}, err
	}
	if f.Header.ResponseCode == wire.StatusUnknown {
		name, err := r.ReadString()
		if err != nil {
			return Result{}, err
		}
		return Result{Redirect: string(name)}, nil
	}
	switch f.Header.Command {
	case wire.DATASTR:
		s, err := r.ReadString()
		if err != nil {
			return Result{}, err
		}
		return Result{Value: item.StringValue(s), Found: true}, nil
	default:
		v, err := r.ReadInt()
		if err != nil {
			return Result{}, err
		}
		return Result{Value: item.IntValue(v), Found: true}, nil
	}
}

// Set writes one key. expiresIn is relative seconds from now, 0 for
// no expiry (spec.md §4.7's SET payload shape).
func (c *Client) Set(mapName, key string, v item.Value, expiresIn int32) (redirect string, err error) {
	mapHash := hashfn.Hash(mapName)
	keyHash := hashfn.Hash(key)
	w := wire.NewPayloadWriter().
		PutLong(mapHash).
		PutLong(keyHash).
		PutInt(expiresIn).
		PutInt(0). // fullwait: unused, backup sync is always async
		PutString(nil)

	cmd := wire.SETINT
	if v.Tag == item.TagString {
		cmd = wire.SETSTR
		w.PutString(v.String)
	} else {
		w.PutInt(v.Int)
	}

	f, err := c.roundTrip(cmd, wire.ACK, w.Bytes())
	if err != nil {
		return "", err
	}
	if f.Header.ResponseCode == wire.StatusUnknown {
		r := wire.NewPayloadReader(f.Payload)
		name, err := r.ReadString()
		if err != nil {
			return "", err
		}
		return string(name), nil
	}
	return "", nil
}
