package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SizeString parses human sizes like "10K", "10M", "1G" (uppercase only),
// or a bare byte count. Grounded on the teacher's config.SizeString.
type SizeString int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *SizeString) UnmarshalYAML(value *yaml.Node) error {
	raw := value.Value
	if value.Tag == "!!int" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		*s = SizeString(v)
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("empty size string")
	}
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(raw, "K"):
		multiplier = 1 << 10
		raw = strings.TrimSuffix(raw, "K")
	case strings.HasSuffix(raw, "M"):
		multiplier = 1 << 20
		raw = strings.TrimSuffix(raw, "M")
	case strings.HasSuffix(raw, "G"):
		multiplier = 1 << 30
		raw = strings.TrimSuffix(raw, "G")
	default:
		if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
			return fmt.Errorf("invalid size string: %s (must end with 'K', 'M', or 'G')", value.Value)
		}
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return err
	}
	*s = SizeString(v * multiplier)
	return nil
}

// LogRotationConfig mirrors the teacher's GlobalLogConfig: an optional
// rotating log file shared by both processes via lumberjack.
type LogRotationConfig struct {
	Filename   string `yaml:"Filename,omitempty"`
	MaxSize    int    `yaml:"MaxSize,omitempty"` // megabytes
	MaxBackups int    `yaml:"MaxBackups,omitempty"`
	MaxAge     int    `yaml:"MaxAge,omitempty"` // days
	Compress   bool   `yaml:"Compress,omitempty"`
}

// setDefaults fills in the rotation defaults the teacher's config applies.
func (c *LogRotationConfig) setDefaults() {
	if c.Filename == "" {
		c.Filename = "tunnelbroker.log"
	}
	if c.MaxSize == 0 {
		c.MaxSize = 20
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = 5
	}
	if c.MaxAge == 0 {
		c.MaxAge = 28
	}
}

// LimitsConfig is the optional supplementary file named by SWL_LIMITS_PATH
// (Listener) or -limits (Connector): per-uid bandwidth caps and log
// rotation settings, neither of which spec.md's distillation named but
// both of which original_source's socket-warp lineage and the teacher
// repo's bandwidth-limiter feature support.
type LimitsConfig struct {
	// DefaultRateLimit applies when POST /open omits rate_limit_bps.
	DefaultRateLimit SizeString         `yaml:"default_rate_limit,omitempty"`
	PerUID           map[string]SizeString `yaml:"per_uid,omitempty"`
	Log              *LogRotationConfig `yaml:"log,omitempty"`
}

// LoadLimitsConfig reads and defaults a LimitsConfig from path. An empty
// path is not an error: it returns a zero-value config (unlimited, stderr
// logging).
func LoadLimitsConfig(path string) (*LimitsConfig, error) {
	if path == "" {
		return &LimitsConfig{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read limits file %s: %w", path, err)
	}
	var c LimitsConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse limits file %s: %w", path, err)
	}
	if c.Log != nil {
		c.Log.setDefaults()
	}
	return &c, nil
}

// RateLimitFor returns the configured bandwidth cap in bytes/sec for uid,
// falling back to DefaultRateLimit when uid has no specific entry.
func (c *LimitsConfig) RateLimitFor(uid string) int64 {
	if c == nil {
		return 0
	}
	if v, ok := c.PerUID[uid]; ok {
		return int64(v)
	}
	return int64(c.DefaultRateLimit)
}
