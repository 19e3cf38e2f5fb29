package server

import (
	"github.com/opencluster/opencluster/internal/conninfo"
	"github.com/opencluster/opencluster/internal/item"
	"github.com/opencluster/opencluster/internal/wire"
)

// HandleFrame dispatches one decoded request frame and returns the
// reply to send back, or nil for requests that expect none (spec.md
// §6: a message with response_code == 0 is a request). now is
// injected so tests can control expiry without a real clock.
func (s *Server) HandleFrame(f *wire.Frame, now int64) (*wire.Frame, error) {
	switch f.Header.Command {
	case wire.PING:
		return wire.NewReply(wire.ACK, wire.StatusOK, f.Header.UserID, nil), nil
	case wire.HELLO:
		return wire.NewReply(wire.ACK, wire.StatusOK, f.Header.UserID, nil), nil
	case wire.SERVERHELLO:
		return s.handleServerHello(f)
	case wire.HASHMASK:
		return s.handleHashmask(f)
	case wire.LOADLEVELS:
		return s.handleLoadLevels(f)
	case wire.GETINT, wire.GETSTR:
		return s.handleGet(f, now)
	case wire.SETINT, wire.SETSTR:
		return s.handleSet(f, now)
	default:
		return wire.NewReply(wire.UNKNOWN, wire.StatusUnknown, f.Header.UserID, nil), nil
	}
}

func (s *Server) handleServerHello(f *wire.Frame) (*wire.Frame, error) {
	_, err := s.parseServerHello(f.Payload)
	if err != nil {
		return nil, err
	}
	return wire.NewReply(wire.ACK, wire.StatusOK, f.Header.UserID, nil), nil
}

// parseServerHello decodes a SERVERHELLO payload into the peer's
// conninfo, reading and discarding the trailing auth-secret field.
// OpenCluster's cluster-local trust model doesn't implement a real
// secret check (spec.md names no auth algorithm), so the field is read
// and ignored rather than left undecoded, which would desync any
// trailing field a future frame adds.
func (s *Server) parseServerHello(payload []byte) (conninfo.ConnInfo, error) {
	r := wire.NewPayloadReader(payload)
	raw, err := r.ReadString()
	if err != nil {
		return conninfo.ConnInfo{}, err
	}
	if r.Remaining() > 0 {
		if _, err := r.ReadString(); err != nil {
			return conninfo.ConnInfo{}, err
		}
	}
	return conninfo.Parse(raw)
}

func (s *Server) handleHashmask(f *wire.Frame) (*wire.Frame, error) {
	r := wire.NewPayloadReader(f.Payload)
	mask, err := r.ReadLong()
	if err != nil {
		return nil, err
	}
	idx, err := r.ReadLong()
	if err != nil {
		return nil, err
	}
	level, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	name, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	s.ApplyHashmask(mask, idx, int(level), string(name))
	return nil, nil
}

func (s *Server) handleLoadLevels(f *wire.Frame) (*wire.Frame, error) {
	li := s.LoadInfo()
	payload := wire.NewPayloadWriter().
		PutInt(int32(li.Primary)).
		PutInt(int32(li.Secondary)).
		PutInt(boolToInt(li.Transferring)).
		Bytes()
	return wire.NewReply(wire.LOADLEVELSREPLY, wire.StatusOK, f.Header.UserID, payload), nil
}

func boolToInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func (s *Server) handleGet(f *wire.Frame, now int64) (*wire.Frame, error) {
	r := wire.NewPayloadReader(f.Payload)
	mapHash, err := r.ReadLong()
	if err != nil {
		return nil, err
	}
	keyHash, err := r.ReadLong()
	if err != nil {
		return nil, err
	}

	v, ok, redirect := s.get(mapHash, keyHash, now)
	if !ok {
		// Redirect hint: DATASTR with StatusUnknown carries the known
		// primary's name instead of a value (see DESIGN.md for why the
		// wire format, which never names a dedicated redirect command,
		// is extended this way).
		payload := wire.NewPayloadWriter().PutLong(mapHash).PutLong(keyHash).PutString([]byte(redirect)).Bytes()
		return wire.NewReply(wire.DATASTR, wire.StatusUnknown, f.Header.UserID, payload), nil
	}

	switch v.Tag {
	case item.TagString:
		payload := wire.NewPayloadWriter().PutLong(mapHash).PutLong(keyHash).PutString(v.String).Bytes()
		return wire.NewReply(wire.DATASTR, wire.StatusOK, f.Header.UserID, payload), nil
	default:
		payload := wire.NewPayloadWriter().PutLong(mapHash).PutLong(keyHash).PutInt(valueAsInt(v)).Bytes()
		return wire.NewReply(wire.DATAINT, wire.StatusOK, f.Header.UserID, payload), nil
	}
}

func valueAsInt(v item.Value) int32 {
	switch v.Tag {
	case item.TagShort:
		return int32(v.Short)
	case item.TagLong:
		return int32(v.Long)
	default:
		return v.Int
	}
}

func (s *Server) handleSet(f *wire.Frame, now int64) (*wire.Frame, error) {
	r := wire.NewPayloadReader(f.Payload)
	mapHash, err := r.ReadLong()
	if err != nil {
		return nil, err
	}
	keyHash, err := r.ReadLong()
	if err != nil {
		return nil, err
	}
	expiresIn, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	if _, err := r.ReadInt(); err != nil { // fullwait, unused: backup is never synchronous (spec.md §4.7)
		return nil, err
	}
	label, err := r.ReadString()
	if err != nil {
		return nil, err
	}

	var v item.Value
	if f.Header.Command == wire.SETSTR {
		val, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		v = item.StringValue(val)
	} else {
		val, err := r.ReadInt()
		if err != nil {
			return nil, err
		}
		v = item.IntValue(val)
	}

	var expires int64
	if expiresIn != 0 {
		expires = now + int64(expiresIn)
	}

	ok, redirect := s.set(mapHash, keyHash, v, expires)
	if !ok {
		payload := wire.NewPayloadWriter().PutString([]byte(redirect)).Bytes()
		return wire.NewReply(wire.UNKNOWN, wire.StatusUnknown, f.Header.UserID, payload), nil
	}
	if len(label) > 0 {
		idx := s.routeIndex(keyHash)
		s.Buckets.Bucket(idx).Data.SetLabel(keyHash, label, expires)
	}
	s.enqueueBackupSync(keyHash, mapHash, v, expires, label)
	return wire.NewReply(wire.ACK, wire.StatusOK, f.Header.UserID, nil), nil
}

// enqueueBackupSync is a hook point: on a real connection this would
// write SYNC_ITEM (and SYNC_KEYVALUE, if a label was set) to the
// bucket's backup connection, in SET arrival order per key (spec.md
// §4.7's ordering guarantee). The event loop (loop.go) supplies the
// actual backup connection; Server itself only decides whether one is
// owed.
func (s *Server) enqueueBackupSync(keyHash, mapHash uint64, v item.Value, expires int64, label []byte) {
	idx := s.routeIndex(keyHash)
	b := s.Buckets.Bucket(idx)
	if b.BackupNode == "" {
		return
	}
	if s.OnBackupSync != nil {
		s.OnBackupSync(b.BackupNode, keyHash, mapHash, v, expires, label)
	}
}

