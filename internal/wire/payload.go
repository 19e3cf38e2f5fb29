package wire

import (
	"encoding/binary"

	"github.com/opencluster/opencluster/internal/item"
	"github.com/opencluster/opencluster/internal/ocerr"
)

// PayloadWriter builds a frame payload field by field, per spec §6's
// field types: int = big-endian 32-bit, long = big-endian 64-bit,
// string/blob = 32-bit length prefix followed by bytes.
type PayloadWriter struct {
	buf []byte
}

// NewPayloadWriter returns an empty PayloadWriter.
func NewPayloadWriter() *PayloadWriter {
	return &PayloadWriter{}
}

// PutInt appends a 32-bit int field.
func (w *PayloadWriter) PutInt(v int32) *PayloadWriter {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf = append(w.buf, b[:]...)
	return w
}

// PutLong appends a 64-bit long field.
func (w *PayloadWriter) PutLong(v uint64) *PayloadWriter {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

// PutString appends a length-prefixed string/blob field.
func (w *PayloadWriter) PutString(s []byte) *PayloadWriter {
	w.PutInt(int32(len(s)))
	w.buf = append(w.buf, s...)
	return w
}

// PutValue appends a tagged item.Value: a one-byte tag followed by
// whichever field that tag selects. Used by SYNC_ITEM, the one wire
// command that carries both int- and string-shaped values under a
// single code (spec §6), unlike SET_INT/SET_STR which are distinct
// requests.
func (w *PayloadWriter) PutValue(v item.Value) *PayloadWriter {
	w.buf = append(w.buf, byte(v.Tag))
	switch v.Tag {
	case item.TagShort:
		w.PutInt(int32(v.Short))
	case item.TagInt:
		w.PutInt(v.Int)
	case item.TagLong:
		w.PutLong(uint64(v.Long))
	case item.TagString:
		w.PutString(v.String)
	}
	return w
}

// Bytes returns the encoded payload.
func (w *PayloadWriter) Bytes() []byte { return w.buf }

// PayloadReader decodes a frame payload field by field, in the order
// they were written.
type PayloadReader struct {
	buf []byte
	pos int
}

// NewPayloadReader returns a reader over buf.
func NewPayloadReader(buf []byte) *PayloadReader {
	return &PayloadReader{buf: buf}
}

func (r *PayloadReader) need(n int) error {
	if len(r.buf)-r.pos < n {
		return ocerr.MalformedFrame("payload too short: need %d more bytes at offset %d, have %d", n, r.pos, len(r.buf)-r.pos)
	}
	return nil
}

// ReadInt reads a 32-bit int field.
func (r *PayloadReader) ReadInt() (int32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4]))
	r.pos += 4
	return v, nil
}

// ReadLong reads a 64-bit long field.
func (r *PayloadReader) ReadLong() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

// ReadString reads a length-prefixed string/blob field.
func (r *PayloadReader) ReadString() ([]byte, error) {
	n, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, ocerr.MalformedFrame("negative string length %d", n)
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	s := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return s, nil
}

// ReadValue decodes a tagged item.Value written by PutValue.
func (r *PayloadReader) ReadValue() (item.Value, error) {
	if err := r.need(1); err != nil {
		return item.Value{}, err
	}
	tag := item.ValueTag(r.buf[r.pos])
	r.pos++
	switch tag {
	case item.TagShort:
		v, err := r.ReadInt()
		if err != nil {
			return item.Value{}, err
		}
		return item.Value{Tag: item.TagShort, Short: int16(v)}, nil
	case item.TagInt:
		v, err := r.ReadInt()
		if err != nil {
			return item.Value{}, err
		}
		return item.Value{Tag: item.TagInt, Int: v}, nil
	case item.TagLong:
		v, err := r.ReadLong()
		if err != nil {
			return item.Value{}, err
		}
		return item.Value{Tag: item.TagLong, Long: int64(v)}, nil
	case item.TagString:
		v, err := r.ReadString()
		if err != nil {
			return item.Value{}, err
		}
		return item.Value{Tag: item.TagString, String: v}, nil
	case item.TagDeleted:
		return item.Value{Tag: item.TagDeleted}, nil
	default:
		return item.Value{}, ocerr.MalformedFrame("unknown value tag %d", tag)
	}
}

// Remaining reports how many bytes are left unread.
func (r *PayloadReader) Remaining() int { return len(r.buf) - r.pos }
