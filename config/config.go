// Package config types and validates the on-disk YAML configuration a
// ribengine node loads at startup. It only types and validates the knobs
// the core needs; it does not open sockets or touch the filesystem beyond
// reading the file.
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// PeerConfig names one configured peer within an area: how to find it.
// Dial/auth mechanics belong to the transport implementation, matching
// transport.PeerSpec (which NodeConfig's peers are expanded into).
type PeerConfig struct {
	NodeName string `yaml:"node_name"`
	Address  string `yaml:"address"`
}

// AreaConfig is one area this node participates in, plus its configured
// peers. Each area gets its own KvStoreDb and LinkState.
type AreaConfig struct {
	Name       string       `yaml:"name"`
	Peers      []PeerConfig `yaml:"peers,omitempty"`
	FloodRate  float64      `yaml:"flood_rate,omitempty"`
	FloodBurst int          `yaml:"flood_burst,omitempty"`
}

// StaticPrefix is a statically configured route: installed into the RIB
// directly, losing only to a route derived from an advertised prefix for
// the same CIDR. NextHop is optional — a static prefix without one is a
// local/null route the downstream agent handles.
type StaticPrefix struct {
	Area             string `yaml:"area"`
	Prefix           string `yaml:"prefix"`
	NextHop          string `yaml:"next_hop,omitempty"`
	PathPreference   int32  `yaml:"path_preference,omitempty"`
	SourcePreference int32  `yaml:"source_preference,omitempty"`
}

// NodeConfig is the root of a node's configuration file.
type NodeConfig struct {
	Id       string         `yaml:"id"`
	Areas    []AreaConfig   `yaml:"areas"`
	Prefixes []StaticPrefix `yaml:"prefixes,omitempty"`

	LogPath string `yaml:"log_path,omitempty"`
	Verbose bool   `yaml:"verbose,omitempty"`
}

// Load reads and parses a NodeConfig from path. It does not validate; call
// Validate separately so callers can decide whether a validation failure
// is fatal.
func Load(path string) (*NodeConfig, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg NodeConfig
	if err := yaml.Unmarshal(file, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Area returns the named area's config, if present.
func (c *NodeConfig) Area(name string) (AreaConfig, bool) {
	for _, a := range c.Areas {
		if a.Name == name {
			return a, true
		}
	}
	return AreaConfig{}, false
}
