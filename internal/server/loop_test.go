package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/opencluster/opencluster/internal/clientconn"
	"github.com/opencluster/opencluster/internal/conninfo"
	"github.com/opencluster/opencluster/internal/wire"
)

// TestFounderAloneServesGetSet exercises scenario 1 from spec.md §8:
// a single founder node serving GET/SET over a real TCP connection.
func TestFounderAloneServesGetSet(t *testing.T) {
	srv := NewFounder(conninfo.ConnInfo{Name: "node-a", IP: "127.0.0.1", Port: 0}, 0x0F, 1, nil)
	if srv.Buckets.PrimaryCount() != 16 {
		t.Fatalf("PrimaryCount() = %d, want 16", srv.Buckets.PrimaryCount())
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	loop := NewLoop(srv, 100*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Serve(ctx, ln)

	clientNC, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer clientNC.Close()
	client := clientconn.New(clientNC)

	setPayload := wire.NewPayloadWriter().
		PutLong(1).
		PutLong(5).
		PutInt(0).
		PutInt(0).
		PutString(nil).
		PutInt(99).
		Bytes()
	userID := client.NextUserID()
	replyCh := client.Register(userID, wire.ACK)
	if err := client.Send(wire.NewRequest(wire.SETINT, userID, setPayload)); err != nil {
		t.Fatalf("Send SET: %v", err)
	}
	go drainReplies(t, client)

	select {
	case reply := <-replyCh:
		if reply.Header.Command != wire.ACK {
			t.Fatalf("SET reply = %+v", reply.Header)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for SET ack")
	}

	getPayload := wire.NewPayloadWriter().PutLong(1).PutLong(5).Bytes()
	userID = client.NextUserID()
	replyCh = client.Register(userID, wire.DATAINT)
	if err := client.Send(wire.NewRequest(wire.GETINT, userID, getPayload)); err != nil {
		t.Fatalf("Send GET: %v", err)
	}

	select {
	case reply := <-replyCh:
		r := wire.NewPayloadReader(reply.Payload)
		r.ReadLong()
		r.ReadLong()
		v, _ := r.ReadInt()
		if v != 99 {
			t.Fatalf("GET returned value %d, want 99", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for GET reply")
	}
}

// drainReplies keeps reading frames so client.Resolve can deliver
// replies to the channels registered by Register; without a reader
// goroutine the net.Conn's read side never advances.
func drainReplies(t *testing.T, c *clientconn.Conn) {
	for {
		f, err := wire.ReadFrame(c.Conn)
		if err != nil {
			return
		}
		if f.Header.IsReply() {
			c.Resolve(f)
		}
	}
}
