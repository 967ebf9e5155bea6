package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := &Config{
		DefaultTTLSeconds:     3600,
		DefaultEvictionPolicy: "LRU",
		DefaultMaxEntries:     1000,
		DefaultMemoryCapMB:    64,
		DefaultReplication:    "NONE",
		CacheOverrides:        map[string]CacheOverride{},
	}
	cfg.Cluster.NodeID = "node-a"
	cfg.Cluster.Discovery.Type = string(DiscoveryStatic)
	return cfg
}

func TestValidateRejectsEmptyNodeID(t *testing.T) {
	cfg := validConfig()
	cfg.Cluster.NodeID = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty node_id")
	}
}

func TestValidateRejectsUnknownDiscoveryType(t *testing.T) {
	cfg := validConfig()
	cfg.Cluster.Discovery.Type = "gossip"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unsupported discovery type")
	}
}

func TestValidateRejectsUnknownEvictionPolicy(t *testing.T) {
	cfg := validConfig()
	cfg.DefaultEvictionPolicy = "MRU"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown eviction policy")
	}
}

func TestValidateRejectsNonPositiveTTL(t *testing.T) {
	cfg := validConfig()
	cfg.DefaultTTLSeconds = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for non-positive default TTL")
	}
}

func TestValidateRejectsBadOverride(t *testing.T) {
	cfg := validConfig()
	cfg.CacheOverrides["sessions"] = CacheOverride{EvictionPolicy: "BOGUS"}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for bad cache override")
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCacheConfigurationAppliesOverride(t *testing.T) {
	cfg := validConfig()
	cfg.CacheOverrides["sessions"] = CacheOverride{
		TTLSeconds:     60,
		EvictionPolicy: "LFU",
		MaxEntries:     500,
	}

	got := cfg.CacheConfiguration("sessions")
	if got.DefaultTTL != time.Minute {
		t.Fatalf("ttl = %v, want 1m", got.DefaultTTL)
	}
	if got.MaxEntries != 500 {
		t.Fatalf("maxEntries = %d, want 500", got.MaxEntries)
	}
}

func TestCacheConfigurationFallsBackToDefaults(t *testing.T) {
	cfg := validConfig()
	got := cfg.CacheConfiguration("unregistered")
	if got.MaxEntries != cfg.DefaultMaxEntries {
		t.Fatalf("maxEntries = %d, want default %d", got.MaxEntries, cfg.DefaultMaxEntries)
	}
}
