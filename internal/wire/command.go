// Package wire implements the OpenCluster binary frame protocol (spec
// §6): a fixed 12-byte big-endian header followed by a length-prefixed
// payload, and the canonical numeric command codes.
package wire

import "fmt"

// Command identifies a frame's operation. The numeric values are
// fixed by the wire format and must never be renumbered.
type Command uint16

const (
	ACK     Command = 1
	UNKNOWN Command = 9

	HELLO        Command = 10
	SHUTTINGDOWN Command = 15
	PING         Command = 30
	SERVERHELLO  Command = 50

	HASHMASK Command = 120

	LOADLEVELS      Command = 200
	LOADLEVELSREPLY Command = 210

	ACCEPTBUCKET       Command = 300
	CANTACCEPTBUCKET   Command = 305
	ACCEPTINGBUCKET    Command = 310
	CONTROLBUCKET      Command = 320
	CONTROLCOMPLETE    Command = 330
	CONTROLFAILED      Command = 335
	FINALISEMIGRATION  Command = 400

	SETINT  Command = 2000
	SETSTR  Command = 2020
	GETINT  Command = 2100
	GETSTR  Command = 2120
	DATAINT Command = 2105
	DATASTR Command = 2125

	// SYNCITEM carries a tagged item.Value (spec §6: "3000 SYNC_INT /
	// SYNC_STRING" is one wire command, distinguished by the value's
	// own tag rather than by a second command code, unlike SET_INT/
	// SET_STR which are genuinely distinct request shapes).
	SYNCITEM     Command = 3000
	SYNCKEYVALUE Command = 3020
)

func (c Command) String() string {
	switch c {
	case ACK:
		return "ACK"
	case UNKNOWN:
		return "UNKNOWN"
	case HELLO:
		return "HELLO"
	case SHUTTINGDOWN:
		return "SHUTTINGDOWN"
	case PING:
		return "PING"
	case SERVERHELLO:
		return "SERVERHELLO"
	case HASHMASK:
		return "HASHMASK"
	case LOADLEVELS:
		return "LOADLEVELS"
	case LOADLEVELSREPLY:
		return "LOADLEVELS_REPLY"
	case ACCEPTBUCKET:
		return "ACCEPT_BUCKET"
	case CANTACCEPTBUCKET:
		return "CANT_ACCEPT_BUCKET"
	case ACCEPTINGBUCKET:
		return "ACCEPTING_BUCKET"
	case CONTROLBUCKET:
		return "CONTROL_BUCKET"
	case CONTROLCOMPLETE:
		return "CONTROL_BUCKET_COMPLETE"
	case CONTROLFAILED:
		return "CONTROL_BUCKET_FAILED"
	case FINALISEMIGRATION:
		return "FINALISE_MIGRATION"
	case SETINT:
		return "SET_INT"
	case SETSTR:
		return "SET_STR"
	case GETINT:
		return "GET_INT"
	case GETSTR:
		return "GET_STR"
	case DATAINT:
		return "DATA_INT"
	case DATASTR:
		return "DATA_STR"
	case SYNCITEM:
		return "SYNC_ITEM"
	case SYNCKEYVALUE:
		return "SYNC_KEYVALUE"
	default:
		return fmt.Sprintf("Command(%d)", uint16(c))
	}
}

// Status is the value carried in a reply frame's response_code field.
// Requests always carry StatusNone (0); StatusOK/StatusUnknown reuse
// the wire format's own generic ACK/UNKNOWN codes as the two general
// status markers spec §6 names ("1 ACK, 9 UNKNOWN | generic
// responses"), while replies with their own distinct Command (e.g.
// CANTACCEPTBUCKET) still carry StatusOK to mean "successfully
// produced this reply."
type Status uint16

const (
	StatusNone    Status = 0
	StatusOK      Status = Status(ACK)
	StatusUnknown Status = Status(UNKNOWN)
)
