// Package config defines the top-level Config object every service in this
// module is constructed from (§6 "Configuration (consumed)"): the on-disk
// cache root, the outbound-connection policy, the admission cap, and the
// per-cache-name CacheConfig table that feeds cachefs.NewCache.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/getsentry/symbolicator-go/cachefs"
)

// CacheConfig is the per-cache-name block from §6, in wire (YAML) form.
// Durations are nanosecond counts, same convention as cachefs.Config's
// *time.Duration fields - a nil/absent field means infinite (never expire,
// never retry).
type CacheConfig struct {
	MaxUnusedFor        *int64 `yaml:"max_unused_for,omitempty"`
	RetryMissesAfter    *int64 `yaml:"retry_misses_after,omitempty"`
	RetryMalformedAfter *int64 `yaml:"retry_malformed_after,omitempty"`
}

// ToCachefsConfig converts c into the cachefs.Config cachefs.NewCache
// expects, tagging it with kind - the CacheKind isn't part of the wire
// format since it's fixed per CacheName, not per deployment.
func (c CacheConfig) ToCachefsConfig(kind cachefs.CacheKind) cachefs.Config {
	return cachefs.Config{
		Kind:                kind,
		MaxUnusedFor:        nsToDuration(c.MaxUnusedFor),
		RetryMissesAfter:    nsToDuration(c.RetryMissesAfter),
		RetryMalformedAfter: nsToDuration(c.RetryMalformedAfter),
	}
}

// InMemoryConfig configures the L1, in-process cache tier layered in front
// of cachefs's on-disk tier by cache-manager.
type InMemoryConfig struct {
	// SentryIndexTTL bounds how long the in-memory index of Sentry debug
	// file metadata stays fresh, in nanoseconds. Zeroed by PostProcess when
	// CacheDir is empty (OQ3) - a known special case preserved only for
	// test compatibility (§9).
	SentryIndexTTL int64 `yaml:"sentry_index_ttl"`
}

// CachesConfig collects the CacheConfig for every cachefs.CacheName this
// service family uses, plus the in-memory sub-config.
type CachesConfig struct {
	Objects      CacheConfig    `yaml:"objects"`
	ObjectMeta   CacheConfig    `yaml:"object_meta"`
	SymCaches    CacheConfig    `yaml:"symcaches"`
	CfiCaches    CacheConfig    `yaml:"cficaches"`
	PPDBCaches   CacheConfig    `yaml:"ppdb_caches"`
	Diagnostics  CacheConfig    `yaml:"diagnostics"`
	AuxDifs      CacheConfig    `yaml:"auxdifs"`
	SourceMapRef CacheConfig    `yaml:"sourcemap_refs"`
	InMemory     InMemoryConfig `yaml:"in_memory"`
}

// Config is the top-level configuration object, read by requestsvc
// (MaxConcurrentRequests) and cache-manager (CacheDir, TmpDir, Caches) (§6).
type Config struct {
	// CacheDir is the on-disk cache root. Empty disables the disk tier
	// entirely: cache_dir absent ⇔ tmp_dir absent ⇔ cache is disabled
	// (§4.C).
	CacheDir string `yaml:"cache_dir"`
	// TmpDir stages writes before an atomic rename into CacheDir; must be a
	// sibling of CacheDir on the same filesystem (OQ1, a deployment
	// precondition this package does not verify).
	TmpDir string `yaml:"tmp_dir"`

	// ConnectToReservedIPs is loaded from connect_to_reserved_ips and
	// defaults to false. No code in this module passes it to httpguard,
	// whose reserved-IPv4 block is switched by its own Config.AllowReservedIPs.
	ConnectToReservedIPs bool `yaml:"connect_to_reserved_ips"`

	// MaxConcurrentRequests bounds simultaneously in-flight symbolication
	// jobs (requestsvc admission control). Nil means unbounded.
	MaxConcurrentRequests *int `yaml:"max_concurrent_requests,omitempty"`

	Caches CachesConfig `yaml:"caches"`
}

// Default returns the zero-value Config: disk cache disabled, reserved-IP
// guard enabled, no admission cap. Services fall back to this when no
// config file is supplied, which keeps them runnable (disk tier no-ops)
// rather than failing to start.
func Default() Config {
	return Config{}
}

// Load reads and parses the YAML config file at path, then applies
// PostProcess.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.PostProcess()
	return &cfg, nil
}

// PostProcess applies configuration-wide invariants that can't be expressed
// declaratively in YAML. It must run once after decoding (Load does this
// automatically) and before the Config is handed to any service.
func (c *Config) PostProcess() {
	if c.CacheDir == "" {
		c.Caches.InMemory.SentryIndexTTL = 0
	}
}

func nsToDuration(ns *int64) *time.Duration {
	if ns == nil {
		return nil
	}
	d := time.Duration(*ns)
	return &d
}
