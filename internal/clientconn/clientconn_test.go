package clientconn

import (
	"net"
	"testing"
	"time"

	"github.com/opencluster/opencluster/internal/wire"
)

func TestRegisterResolveDeliversReply(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	c := New(a)

	userID := c.NextUserID()
	replyCh := c.Register(userID, wire.LOADLEVELS)

	reply := wire.NewReply(wire.LOADLEVELSREPLY, wire.StatusOK, userID, nil)
	if !c.Resolve(reply) {
		t.Fatalf("Resolve reported no pending request for userID %d", userID)
	}

	select {
	case got := <-replyCh:
		if got.Header.Command != wire.LOADLEVELSREPLY {
			t.Fatalf("got command %v", got.Header.Command)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for reply delivery")
	}
}

func TestResolveUnknownUserIDReturnsFalse(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	c := New(a)

	reply := wire.NewReply(wire.ACK, wire.StatusOK, 999, nil)
	if c.Resolve(reply) {
		t.Fatalf("expected Resolve to report false for an unregistered userID")
	}
}

func TestAbandonClosesPendingChannels(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	c := New(a)

	ch := c.Register(c.NextUserID(), wire.PING)
	c.Abandon()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel with no value")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for Abandon to close channel")
	}
}

func TestSendReadLoopRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ca := New(a)
	frames := make(chan *wire.Frame, 1)
	go New(b).ReadLoop(frames)

	go ca.Send(wire.NewRequest(wire.PING, 1, nil))

	select {
	case f := <-frames:
		if f.Header.Command != wire.PING {
			t.Fatalf("got command %v", f.Header.Command)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for frame")
	}
}
