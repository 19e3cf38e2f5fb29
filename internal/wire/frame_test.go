package wire

import (
	"bytes"
	"testing"

	"github.com/opencluster/opencluster/test"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	payload := NewPayloadWriter().PutLong(0x0F).PutLong(3).PutInt(0).Bytes()
	f := NewRequest(HASHMASK, 42, payload)

	var buf bytes.Buffer
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	wantHeader := Header{Command: HASHMASK, ResponseCode: StatusNone, UserID: 42, Length: uint32(len(payload))}
	if d := test.Diff(got.Header, wantHeader); d != "" {
		t.Fatalf("header mismatch: %s", d)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Fatalf("payload mismatch: got %x want %x", got.Payload, payload)
	}
}

func TestReplyCarriesStatus(t *testing.T) {
	f := NewReply(LOADLEVELSREPLY, StatusOK, 7, nil)
	if !f.Header.IsReply() {
		t.Fatalf("expected reply header")
	}
	if f.Header.ResponseCode != StatusOK {
		t.Fatalf("ResponseCode = %v, want StatusOK", f.Header.ResponseCode)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var hdr [HeaderSize]byte
	hdr[8] = 0x7F // length byte 0: make Length huge
	hdr[9] = 0xFF
	hdr[10] = 0xFF
	hdr[11] = 0xFF
	if _, err := ReadFrame(bytes.NewReader(hdr[:])); err == nil {
		t.Fatalf("expected error for oversized length")
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	w := NewPayloadWriter().PutInt(-7).PutLong(123456789).PutString([]byte("hello"))
	r := NewPayloadReader(w.Bytes())

	i, err := r.ReadInt()
	if err != nil || i != -7 {
		t.Fatalf("ReadInt = %d, %v", i, err)
	}
	l, err := r.ReadLong()
	if err != nil || l != 123456789 {
		t.Fatalf("ReadLong = %d, %v", l, err)
	}
	s, err := r.ReadString()
	if err != nil || string(s) != "hello" {
		t.Fatalf("ReadString = %q, %v", s, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("Remaining() = %d, want 0", r.Remaining())
	}
}

func TestPayloadReaderShortBuffer(t *testing.T) {
	r := NewPayloadReader([]byte{0, 0})
	if _, err := r.ReadLong(); err == nil {
		t.Fatalf("expected error reading long from too-short buffer")
	}
}
