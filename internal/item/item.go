// Package item defines the Item stored by the value store and its
// tagged Value (spec §3).
package item

import "fmt"

// ValueTag identifies which variant a Value holds.
type ValueTag uint8

const (
	// TagDeleted marks an item as a tombstone scheduled for removal.
	TagDeleted ValueTag = iota
	// TagShort holds a small integer (int16-range) value.
	TagShort
	// TagInt holds a 32-bit integer value.
	TagInt
	// TagLong holds a 64-bit integer value.
	TagLong
	// TagString holds a length-prefixed byte blob.
	TagString
)

func (t ValueTag) String() string {
	switch t {
	case TagDeleted:
		return "deleted"
	case TagShort:
		return "short"
	case TagInt:
		return "int"
	case TagLong:
		return "long"
	case TagString:
		return "string"
	default:
		return fmt.Sprintf("ValueTag(%d)", uint8(t))
	}
}

// Value is a tagged union over the value kinds OpenCluster stores.
// Only the field matching Tag is meaningful.
type Value struct {
	Tag    ValueTag
	Short  int16
	Int    int32
	Long   int64
	String []byte
}

// Deleted reports whether v is a tombstone.
func (v Value) Deleted() bool { return v.Tag == TagDeleted }

// DeletedValue returns a tombstone Value.
func DeletedValue() Value { return Value{Tag: TagDeleted} }

// IntValue returns a TagInt Value.
func IntValue(i int32) Value { return Value{Tag: TagInt, Int: i} }

// LongValue returns a TagLong Value.
func LongValue(l int64) Value { return Value{Tag: TagLong, Long: l} }

// StringValue returns a TagString Value.
func StringValue(s []byte) Value { return Value{Tag: TagString, String: s} }

// Item is a single stored record: the two hashes that address it, its
// absolute expiry second (0 = no expiry), its value, and the
// migration generation tag used to detect and re-ship writes that
// race an in-flight bucket migration.
type Item struct {
	ItemKey        uint64 // key_hash
	MapKey         uint64 // map_hash
	Expires        int64  // absolute unix second, 0 = never
	Value          Value
	MigrateSyncTag uint64
}

// Expired reports whether the item has expired as of nowUnix.
func (it *Item) Expired(nowUnix int64) bool {
	return it.Expires != 0 && it.Expires <= nowUnix
}

// KeyValueLabel is the optional human-readable label attached to a
// key (SET-KEYVALUE, spec §4.7), stored alongside the maplist rather
// than per item since it describes the key, not a single map entry.
type KeyValueLabel struct {
	Key     uint64
	Expires int64
	Label   []byte
}
