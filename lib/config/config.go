package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// --------------------------------------------------------------------------
// Engine configuration
// --------------------------------------------------------------------------

// Config holds every tunable of the storage engine. The values are
// immutable after engine construction; shards receive the struct at
// creation and never observe changes.
type Config struct {
	// NumShards is the number of shard executors.
	NumShards int

	// MaxMapFieldLen is the byte length of a single hash field or value
	// above which the hash promotes to its hashed encoding.
	MaxMapFieldLen int
	// MaxListpackMapBytes is the packed hash byte size above which the
	// hash promotes.
	MaxListpackMapBytes int
	// ZSetMaxListpackEntries is the packed sorted set entry count above
	// which the set promotes to its skip-list encoding.
	ZSetMaxListpackEntries int

	// TieredPath is the page file path prefix; the shard index is
	// appended. Empty disables tiering.
	TieredPath string
	// TieredMaxFileSize caps the page file per shard.
	TieredMaxFileSize uint64
	// TieredWriteDepth is the maximum number of concurrent in-flight
	// stash requests per shard.
	TieredWriteDepth int
	// TieredCacheFetched re-uploads fetched values into memory
	// opportunistically.
	TieredCacheFetched bool
	// TieredMinValueSize is the minimum string size eligible for
	// offloading.
	TieredMinValueSize int
	// TieredFragThreshold is the live/used ratio below which a small bin
	// counts as fragmented.
	TieredFragThreshold float64

	// StreamOutputLimit is the byte ceiling for in-flight replication
	// bytes before the streamer throttles.
	StreamOutputLimit int
	// StreamTimeoutMs is how long a throttled stream waits before it
	// reports a stream timeout.
	StreamTimeoutMs int

	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		NumShards:              runtime.NumCPU(),
		MaxMapFieldLen:         64,
		MaxListpackMapBytes:    1024,
		ZSetMaxListpackEntries: 128,
		TieredMaxFileSize:      1 << 30,
		TieredWriteDepth:       50,
		TieredCacheFetched:     true,
		TieredMinValueSize:     64,
		TieredFragThreshold:    0.5,
		StreamOutputLimit:      64 * 1024,
		StreamTimeoutMs:        500,
		LogLevel:               "info",
	}
}

// FromViper reads the configuration from the bound viper instance,
// falling back to defaults for unset keys.
func FromViper() *Config {
	c := Default()
	if v := viper.GetInt("shards"); v > 0 {
		c.NumShards = v
	}
	if v := viper.GetInt("max-map-field-len"); v > 0 {
		c.MaxMapFieldLen = v
	}
	if v := viper.GetInt("max-listpack-map-bytes"); v > 0 {
		c.MaxListpackMapBytes = v
	}
	if v := viper.GetInt("zset-max-listpack-entries"); v > 0 {
		c.ZSetMaxListpackEntries = v
	}
	if v := viper.GetString("tiered-path"); v != "" {
		c.TieredPath = v
	}
	if v := viper.GetUint64("tiered-max-file-size"); v > 0 {
		c.TieredMaxFileSize = v
	}
	if v := viper.GetInt("tiered-write-depth"); v > 0 {
		c.TieredWriteDepth = v
	}
	if viper.IsSet("tiered-cache-fetched") {
		c.TieredCacheFetched = viper.GetBool("tiered-cache-fetched")
	}
	if v := viper.GetInt("tiered-min-value-size"); v > 0 {
		c.TieredMinValueSize = v
	}
	if v := viper.GetInt("stream-output-limit"); v > 0 {
		c.StreamOutputLimit = v
	}
	if v := viper.GetInt("stream-timeout"); v > 0 {
		c.StreamTimeoutMs = v
	}
	if v := viper.GetString("log-level"); v != "" {
		c.LogLevel = v
	}
	return c
}

// String returns a formatted representation of the configuration.
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-26s: %s\n", name, value))
	}

	addSection("Engine")
	addField("Shards", fmt.Sprintf("%d", c.NumShards))
	addField("Log Level", c.LogLevel)

	addSection("Container Encodings")
	addField("Max Map Field Len", fmt.Sprintf("%d", c.MaxMapFieldLen))
	addField("Max Listpack Map Bytes", fmt.Sprintf("%d", c.MaxListpackMapBytes))
	addField("ZSet Max Listpack Entries", fmt.Sprintf("%d", c.ZSetMaxListpackEntries))

	addSection("Tiered Storage")
	if c.TieredPath == "" {
		addField("Enabled", "false")
	} else {
		addField("Path Prefix", c.TieredPath)
		addField("Max File Size", fmt.Sprintf("%d", c.TieredMaxFileSize))
		addField("Write Depth", fmt.Sprintf("%d", c.TieredWriteDepth))
		addField("Cache Fetched", fmt.Sprintf("%t", c.TieredCacheFetched))
		addField("Min Value Size", fmt.Sprintf("%d", c.TieredMinValueSize))
	}

	addSection("Replication Stream")
	addField("Output Limit", fmt.Sprintf("%d", c.StreamOutputLimit))
	addField("Timeout (ms)", fmt.Sprintf("%d", c.StreamTimeoutMs))

	return sb.String()
}
