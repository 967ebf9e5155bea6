// Package config loads and validates node configuration via
// github.com/spf13/viper: cluster identity and discovery, heartbeat and
// communication timeouts, and per-cache policy defaults with optional
// named overrides.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/distcache/distcache/internal/cachetypes"
)

// DiscoveryType selects how a node learns its peer set. Only StaticList is
// implemented; cluster membership discovery beyond an operator-supplied
// list is out of scope.
type DiscoveryType string

const (
	DiscoveryStatic DiscoveryType = "static"
)

// ClusterConfig holds this node's identity, its peers, and the
// heartbeat/communication timeouts governing the transport and membership
// layers.
type ClusterConfig struct {
	NodeID string `mapstructure:"node_id"`
	Listen string `mapstructure:"listen"`

	Discovery struct {
		Type  string   `mapstructure:"type"`
		Peers []string `mapstructure:"peers"`
	} `mapstructure:"discovery"`

	Heartbeat struct {
		IntervalMs    int `mapstructure:"interval_ms"`
		PeerTimeoutMs int `mapstructure:"peer_timeout_ms"`
		MaxFailures   int `mapstructure:"max_failures"`
	} `mapstructure:"heartbeat"`

	Communication struct {
		ConnectTimeoutMs int     `mapstructure:"connect_timeout_ms"`
		ReadTimeoutMs    int     `mapstructure:"read_timeout_ms"`
		MaxRetryAttempts int     `mapstructure:"max_retry_attempts"`
		BackoffBaseMs    int     `mapstructure:"backoff_base_ms"`
		BreakerFailRatio float64 `mapstructure:"breaker_fail_ratio"`
		BreakerMinReqs   int     `mapstructure:"breaker_min_requests"`
		BreakerOpenMs    int     `mapstructure:"breaker_open_ms"`
	} `mapstructure:"communication"`
}

// CacheOverride is a per-cache policy override keyed by cache name in
// Config.CacheOverrides.
type CacheOverride struct {
	TTLSeconds     int    `mapstructure:"ttl_seconds"`
	EvictionPolicy string `mapstructure:"eviction_policy"`
	MaxEntries     int    `mapstructure:"max_entries"`
	MemoryCapMB    int    `mapstructure:"memory_cap_mb"`
	Replication    string `mapstructure:"replication"`
	Persistence    string `mapstructure:"persistence"`
}

// Config is the full node configuration: cluster identity/transport plus
// cache defaults and named overrides.
type Config struct {
	Cluster ClusterConfig `mapstructure:"cluster"`

	DefaultTTLSeconds     int    `mapstructure:"default_ttl_seconds"`
	DefaultEvictionPolicy string `mapstructure:"default_eviction_policy"`
	DefaultMaxEntries     int    `mapstructure:"default_max_entries"`
	DefaultMemoryCapMB    int    `mapstructure:"default_memory_cap_mb"`
	DefaultReplication    string `mapstructure:"default_replication"`

	CacheOverrides map[string]CacheOverride `mapstructure:"cache_overrides"`
}

// Load reads configuration from an optional file named "cachecluster"
// (always parsed as YAML) on the given search paths, environment variables
// prefixed CACHECLUSTER_, and documented defaults, then validates the
// result.
func Load(configPaths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("cachecluster")
	v.SetConfigType("yaml")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("CACHECLUSTER")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cluster.node_id", "")
	v.SetDefault("cluster.listen", "0.0.0.0:7500")
	v.SetDefault("cluster.discovery.type", string(DiscoveryStatic))
	v.SetDefault("cluster.discovery.peers", []string{})
	v.SetDefault("cluster.heartbeat.interval_ms", 5000)
	v.SetDefault("cluster.heartbeat.peer_timeout_ms", 15000)
	v.SetDefault("cluster.heartbeat.max_failures", 3)
	v.SetDefault("cluster.communication.connect_timeout_ms", 5000)
	v.SetDefault("cluster.communication.read_timeout_ms", 10000)
	v.SetDefault("cluster.communication.max_retry_attempts", 3)
	v.SetDefault("cluster.communication.backoff_base_ms", 100)
	v.SetDefault("cluster.communication.breaker_fail_ratio", 0.5)
	v.SetDefault("cluster.communication.breaker_min_requests", 4)
	v.SetDefault("cluster.communication.breaker_open_ms", 30000)

	v.SetDefault("default_ttl_seconds", 3600)
	v.SetDefault("default_eviction_policy", "LRU")
	v.SetDefault("default_max_entries", 10000)
	v.SetDefault("default_memory_cap_mb", 64)
	v.SetDefault("default_replication", "NONE")
}

// Validate rejects a configuration that cannot be turned into a running
// node: missing node identity, an unsupported discovery type, or
// out-of-range cache defaults/overrides.
func Validate(cfg *Config) error {
	if cfg.Cluster.NodeID == "" {
		return fmt.Errorf("config: cluster.node_id must not be empty")
	}
	if DiscoveryType(cfg.Cluster.Discovery.Type) != DiscoveryStatic {
		return fmt.Errorf("config: unsupported discovery type %q", cfg.Cluster.Discovery.Type)
	}
	if cfg.DefaultTTLSeconds <= 0 {
		return fmt.Errorf("config: default_ttl_seconds must be positive, got %d", cfg.DefaultTTLSeconds)
	}
	if _, ok := cachetypes.ParseEvictionPolicy(cfg.DefaultEvictionPolicy); !ok {
		return fmt.Errorf("config: unknown default_eviction_policy %q", cfg.DefaultEvictionPolicy)
	}
	if cfg.DefaultMaxEntries < 1 {
		return fmt.Errorf("config: default_max_entries must be >= 1, got %d", cfg.DefaultMaxEntries)
	}
	if cfg.DefaultMemoryCapMB < 1 {
		return fmt.Errorf("config: default_memory_cap_mb must be >= 1, got %d", cfg.DefaultMemoryCapMB)
	}
	if _, ok := cachetypes.ParseReplicationMode(cfg.DefaultReplication); !ok {
		return fmt.Errorf("config: unknown default_replication %q", cfg.DefaultReplication)
	}

	for name, ov := range cfg.CacheOverrides {
		if ov.EvictionPolicy != "" {
			if _, ok := cachetypes.ParseEvictionPolicy(ov.EvictionPolicy); !ok {
				return fmt.Errorf("config: cache_overrides[%s]: unknown eviction_policy %q", name, ov.EvictionPolicy)
			}
		}
		if ov.Replication != "" {
			if _, ok := cachetypes.ParseReplicationMode(ov.Replication); !ok {
				return fmt.Errorf("config: cache_overrides[%s]: unknown replication %q", name, ov.Replication)
			}
		}
		if ov.Persistence != "" {
			if _, ok := cachetypes.ParsePersistenceMode(ov.Persistence); !ok {
				return fmt.Errorf("config: cache_overrides[%s]: unknown persistence %q", name, ov.Persistence)
			}
		}
	}
	return nil
}

// CacheConfiguration builds a cachetypes.Configuration for cacheName,
// layering any registered override on top of the node-wide defaults.
func (c *Config) CacheConfiguration(cacheName string) cachetypes.Configuration {
	cfg := cachetypes.Configuration{
		DefaultTTL:     time.Duration(c.DefaultTTLSeconds) * time.Second,
		MaxEntries:     c.DefaultMaxEntries,
		MemoryCapBytes: int64(c.DefaultMemoryCapMB) * 1024 * 1024,
	}
	cfg.Eviction, _ = cachetypes.ParseEvictionPolicy(c.DefaultEvictionPolicy)
	cfg.Replication, _ = cachetypes.ParseReplicationMode(c.DefaultReplication)
	cfg.Persistence = cachetypes.PersistenceNone

	ov, ok := c.CacheOverrides[cacheName]
	if !ok {
		return cfg
	}
	if ov.TTLSeconds > 0 {
		cfg.DefaultTTL = time.Duration(ov.TTLSeconds) * time.Second
	}
	if ov.EvictionPolicy != "" {
		cfg.Eviction, _ = cachetypes.ParseEvictionPolicy(ov.EvictionPolicy)
	}
	if ov.MaxEntries > 0 {
		cfg.MaxEntries = ov.MaxEntries
	}
	if ov.MemoryCapMB > 0 {
		cfg.MemoryCapBytes = int64(ov.MemoryCapMB) * 1024 * 1024
	}
	if ov.Replication != "" {
		cfg.Replication, _ = cachetypes.ParseReplicationMode(ov.Replication)
	}
	if ov.Persistence != "" {
		cfg.Persistence, _ = cachetypes.ParsePersistenceMode(ov.Persistence)
	}
	return cfg
}

// HeartbeatInterval returns the configured heartbeat cadence.
func (c *ClusterConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.Heartbeat.IntervalMs) * time.Millisecond
}

// PeerTimeout returns the configured peer liveness timeout.
func (c *ClusterConfig) PeerTimeout() time.Duration {
	return time.Duration(c.Heartbeat.PeerTimeoutMs) * time.Millisecond
}

// ConnectTimeout returns the configured outbound dial timeout.
func (c *ClusterConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.Communication.ConnectTimeoutMs) * time.Millisecond
}

// ReadTimeout returns the configured per-frame read timeout.
func (c *ClusterConfig) ReadTimeout() time.Duration {
	return time.Duration(c.Communication.ReadTimeoutMs) * time.Millisecond
}

// BackoffBase returns the configured exponential backoff base duration.
func (c *ClusterConfig) BackoffBase() time.Duration {
	return time.Duration(c.Communication.BackoffBaseMs) * time.Millisecond
}

// BreakerOpenDuration returns the configured circuit breaker cooldown.
func (c *ClusterConfig) BreakerOpenDuration() time.Duration {
	return time.Duration(c.Communication.BreakerOpenMs) * time.Millisecond
}
