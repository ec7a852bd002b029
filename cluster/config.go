// Package cluster describes a node's view of the cluster it belongs to:
// the other nodes' addresses and priorities, loaded from YAML the same
// way the reference framework loads its own config files, plus a small
// in-process test harness used by the integration tests (§6, §8).
package cluster

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PeerConfig is one other node's static topology entry.
type PeerConfig struct {
	NodeName string `yaml:"nodeName" env:"BEDROCK_PEER_NODE_NAME"`
	Address  string `yaml:"address" env:"BEDROCK_PEER_ADDRESS"`
	Priority int    `yaml:"priority" env:"BEDROCK_PEER_PRIORITY" default:"100"`
}

// Config is a node's static view of the cluster it joins at startup.
// Runtime membership (who is actually alive right now) is tracked
// separately by membership.Directory; Config only says who the cluster is
// supposed to contain.
type Config struct {
	ClusterName string       `yaml:"clusterName" env:"BEDROCK_CLUSTER_NAME" default:"bedrock"`
	Peers       []PeerConfig `yaml:"peers"`
}

// LoadFromFile reads a YAML cluster config from path.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cluster: reading config %q: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cluster: parsing config %q: %w", path, err)
	}
	if cfg.ClusterName == "" {
		cfg.ClusterName = "bedrock"
	}
	return &cfg, nil
}

// QuorumSize returns the majority count of a cluster of the given total
// node count (self plus all configured peers).
func (c *Config) QuorumSize() int {
	total := len(c.Peers) + 1
	return total/2 + 1
}

// HighestPriorityPeer returns the peer with the highest configured
// priority, or ok=false if there are no peers.
func (c *Config) HighestPriorityPeer() (PeerConfig, bool) {
	if len(c.Peers) == 0 {
		return PeerConfig{}, false
	}
	best := c.Peers[0]
	for _, p := range c.Peers[1:] {
		if p.Priority > best.Priority {
			best = p
		}
	}
	return best, true
}
