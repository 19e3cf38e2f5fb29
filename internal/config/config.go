// Package config loads an oc-serverd node's identity and peer list
// (spec.md §6's CLI surface: `-l <conninfo-file>`, `-n <peer-conninfo-file>`)
// plus its optional YAML tuning file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/opencluster/opencluster/internal/conninfo"
)

// Tuning holds the handful of operator-adjustable knobs that aren't
// identity or peer-list data (spec.md §4.3's T_loadlevel, §4.5's
// TRANSIT_MAX, and the settle timeout spec.md §4 mentions for founder
// detection).
type Tuning struct {
	LoadLevelIntervalSeconds int `yaml:"loadlevel-interval-seconds,omitempty"`
	TransitMax               int `yaml:"transit-max,omitempty"`
	SettleTimeoutSeconds     int `yaml:"settle-timeout-seconds,omitempty"`
	InitialMask              int `yaml:"initial-mask,omitempty"`
}

// DefaultTuning returns the spec-mandated defaults (spec.md §4.3:
// T_loadlevel=5s; §4.5: TRANSIT_MAX initial default 1).
func DefaultTuning() Tuning {
	return Tuning{
		LoadLevelIntervalSeconds: 5,
		TransitMax:               1,
		SettleTimeoutSeconds:     10,
		InitialMask:              0x0F,
	}
}

// LoadTuning reads an optional YAML tuning file at path, overlaying
// any set fields onto DefaultTuning(). An empty path or a missing file
// is not an error: the `-tuning` flag is optional, and DefaultTuning()
// is returned as is.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return t, nil
	}
	if err != nil {
		return Tuning{}, fmt.Errorf("config: reading tuning file %s: %w", path, err)
	}
	var override Tuning
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Tuning{}, fmt.Errorf("config: parsing tuning file %s: %w", path, err)
	}
	if override.LoadLevelIntervalSeconds != 0 {
		t.LoadLevelIntervalSeconds = override.LoadLevelIntervalSeconds
	}
	if override.TransitMax != 0 {
		t.TransitMax = override.TransitMax
	}
	if override.SettleTimeoutSeconds != 0 {
		t.SettleTimeoutSeconds = override.SettleTimeoutSeconds
	}
	if override.InitialMask != 0 {
		t.InitialMask = override.InitialMask
	}
	return t, nil
}

// LoadConnInfo reads and parses a single conninfo descriptor file
// (the `-l` local-identity file, or one `-n` peer file).
func LoadConnInfo(path string) (conninfo.ConnInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return conninfo.ConnInfo{}, fmt.Errorf("config: reading conninfo file %s: %w", path, err)
	}
	ci, err := conninfo.Parse(data)
	if err != nil {
		return conninfo.ConnInfo{}, fmt.Errorf("config: parsing conninfo file %s: %w", path, err)
	}
	return ci, nil
}

// LoadPeers reads every file in paths as a peer conninfo descriptor
// (spec.md §6's repeatable `-n`).
func LoadPeers(paths []string) ([]conninfo.ConnInfo, error) {
	peers := make([]conninfo.ConnInfo, 0, len(paths))
	for _, p := range paths {
		ci, err := LoadConnInfo(p)
		if err != nil {
			return nil, err
		}
		peers = append(peers, ci)
	}
	return peers, nil
}
