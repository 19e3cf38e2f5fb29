package wire

import (
	"encoding/binary"
	"io"

	"github.com/opencluster/opencluster/internal/ocerr"
)

// HeaderSize is the fixed size in bytes of every frame's header.
const HeaderSize = 12

// MaxPayload bounds a single frame's payload to guard against a
// corrupt or hostile length field forcing an unbounded allocation.
const MaxPayload = 64 << 20 // 64MiB

// Header is the fixed 12-byte big-endian frame header (spec §6).
type Header struct {
	Command      Command
	ResponseCode Status
	UserID       uint32
	Length       uint32
}

// IsReply reports whether this header describes a reply frame.
func (h Header) IsReply() bool { return h.ResponseCode != StatusNone }

func (h Header) encode(buf []byte) {
	binary.BigEndian.PutUint16(buf[0:2], uint16(h.Command))
	binary.BigEndian.PutUint16(buf[2:4], uint16(h.ResponseCode))
	binary.BigEndian.PutUint32(buf[4:8], h.UserID)
	binary.BigEndian.PutUint32(buf[8:12], h.Length)
}

func decodeHeader(buf []byte) Header {
	return Header{
		Command:      Command(binary.BigEndian.Uint16(buf[0:2])),
		ResponseCode: Status(binary.BigEndian.Uint16(buf[2:4])),
		UserID:       binary.BigEndian.Uint32(buf[4:8]),
		Length:       binary.BigEndian.Uint32(buf[8:12]),
	}
}

// Frame is one decoded message: its header plus raw payload bytes.
type Frame struct {
	Header  Header
	Payload []byte
}

// NewRequest builds a request frame for command with the given userID
// and already-encoded payload.
func NewRequest(cmd Command, userID uint32, payload []byte) *Frame {
	return &Frame{
		Header: Header{Command: cmd, ResponseCode: StatusNone, UserID: userID, Length: uint32(len(payload))},
		Payload: payload,
	}
}

// NewReply builds a reply frame echoing userID, for command cmd (which
// may be a distinct reply-specific code, e.g. LOADLEVELSREPLY) with
// status.
func NewReply(cmd Command, status Status, userID uint32, payload []byte) *Frame {
	return &Frame{
		Header: Header{Command: cmd, ResponseCode: status, UserID: userID, Length: uint32(len(payload))},
		Payload: payload,
	}
}

// ReadFrame reads one frame from r. A short read or an oversized
// length field is reported as a CategoryMalformedFrame error.
func ReadFrame(r io.Reader) (*Frame, error) {
	var hdrBuf [HeaderSize]byte
	if _, err := io.ReadFull(r, hdrBuf[:]); err != nil {
		return nil, ocerr.Wrap(ocerr.CategoryMalformedFrame, "reading frame header", err)
	}
	hdr := decodeHeader(hdrBuf[:])
	if hdr.Length > MaxPayload {
		return nil, ocerr.MalformedFrame("frame length %d exceeds maximum %d", hdr.Length, MaxPayload)
	}
	payload := make([]byte, hdr.Length)
	if hdr.Length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, ocerr.Wrap(ocerr.CategoryMalformedFrame, "reading frame payload", err)
		}
	}
	return &Frame{Header: hdr, Payload: payload}, nil
}

// WriteFrame writes f to w as a single header+payload write.
func WriteFrame(w io.Writer, f *Frame) error {
	buf := make([]byte, HeaderSize+len(f.Payload))
	f.Header.Length = uint32(len(f.Payload))
	f.Header.encode(buf[:HeaderSize])
	copy(buf[HeaderSize:], f.Payload)
	if _, err := w.Write(buf); err != nil {
		return ocerr.Wrap(ocerr.CategoryFatal, "writing frame", err)
	}
	return nil
}
