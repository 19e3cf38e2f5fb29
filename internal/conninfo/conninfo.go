// Package conninfo implements the connection-info descriptor used to
// identify every node in the cluster: a {name, ip, port} triple,
// canonicalized to a sorted-key, whitespace-free JSON encoding so that
// two nodes that parse the same descriptor always agree on its
// canonical bytes.
package conninfo

import (
	"encoding/json"
	"fmt"
)

// DefaultPort is used when a conninfo descriptor omits port.
const DefaultPort = 31336

// ConnInfo identifies a node by name, IP address and port.
type ConnInfo struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// Parse decodes a conninfo descriptor from JSON, defaulting Port to
// DefaultPort when absent or zero.
func Parse(data []byte) (ConnInfo, error) {
	var raw struct {
		Name string `json:"name"`
		IP   string `json:"ip"`
		Port int    `json:"port"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return ConnInfo{}, fmt.Errorf("conninfo: parse: %w", err)
	}
	if raw.Name == "" {
		return ConnInfo{}, fmt.Errorf("conninfo: parse: missing name")
	}
	if raw.Port == 0 {
		raw.Port = DefaultPort
	}
	return ConnInfo{Name: raw.Name, IP: raw.IP, Port: raw.Port}, nil
}

// Canonical returns the canonical byte representation of c: a JSON
// object with keys sorted lexically and no insignificant whitespace.
// Building the value as a map rather than marshaling the struct
// directly is what buys the sorted-key guarantee: encoding/json sorts
// map[string]any keys before emitting them, but preserves struct field
// declaration order.
func (c ConnInfo) Canonical() []byte {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	m := map[string]interface{}{
		"name": c.Name,
		"ip":   c.IP,
		"port": port,
	}
	b, err := json.Marshal(m)
	if err != nil {
		// map[string]interface{} of strings and an int cannot fail to
		// marshal.
		panic(fmt.Sprintf("conninfo: canonical: %s", err))
	}
	return b
}

// String returns the canonical representation as a string.
func (c ConnInfo) String() string {
	return string(c.Canonical())
}

// Equal reports whether c and other describe the same node. Per
// design (spec §9(b)), equality is defined as byte equality of the
// canonical encoding, not semantic equivalence: a hostname and the IP
// it resolves to are different conninfos even if they reach the same
// peer.
func (c ConnInfo) Equal(other ConnInfo) bool {
	return string(c.Canonical()) == string(other.Canonical())
}

// IsZero reports whether c is the zero value (no name, IP or port set).
func (c ConnInfo) IsZero() bool {
	return c.Name == "" && c.IP == "" && c.Port == 0
}

// Addr returns the "ip:port" dial address for c.
func (c ConnInfo) Addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("%s:%d", c.IP, port)
}
