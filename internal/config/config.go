// Package config loads and validates the agent's configuration.
//
// Loading is the only place viper is visible: Load returns a plain Config
// struct, and every other package in this module consumes that struct
// directly, keeping viper an implementation detail behind a handful
// of package functions rather than threading it through the whole
// codebase.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig points at the catalog's sqlite file.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SourceConfig is one named filesystem root with its include/exclude
// glob patterns and an optional remote sub-prefix override.
type SourceConfig struct {
	Path            string   `mapstructure:"path"`
	Patterns        []string `mapstructure:"patterns"`
	RemoteSubPrefix string   `mapstructure:"remote_sub_prefix"`
}

// LocalConfig is the local-filesystem destination.
type LocalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// RemoteConfig is the object-storage destination.
type RemoteConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// RetentionConfig is a schedule's deletion policy.
type RetentionConfig struct {
	MaxCount int `mapstructure:"max_count"`
	MaxDays  int `mapstructure:"max_days"`
}

// ScheduleConfig is one named cron schedule.
type ScheduleConfig struct {
	Cron      string          `mapstructure:"cron"`
	Retention RetentionConfig `mapstructure:"retention"`
	Sources   []string        `mapstructure:"sources"`
	Timezone  string          `mapstructure:"timezone"`
}

// ArchiveConfig controls archive naming and compression.
type ArchiveConfig struct {
	Prefix      string `mapstructure:"prefix"`
	Compression int    `mapstructure:"compression"`
}

// SafetyConfig controls the cleanup engine's validation gates.
type SafetyConfig struct {
	VerifyChecksumBeforeDelete bool `mapstructure:"verify_checksum_before_delete"`
}

// ContainerStopConfig is the per-source or global quiesce policy.
type ContainerStopConfig struct {
	Stop              bool          `mapstructure:"stop"`
	StopTimeout       time.Duration `mapstructure:"stop_timeout"`
	RestartRetries    int           `mapstructure:"restart_retries"`
	RestartRetryDelay time.Duration `mapstructure:"restart_retry_delay"`
}

// VolumeItemConfig is one configured volume source.
type VolumeItemConfig struct {
	Name          string               `mapstructure:"name"`
	Kind          string               `mapstructure:"kind"`
	ComposeFile   string               `mapstructure:"compose_file"`
	Project       string               `mapstructure:"project"`
	ContainerStop *ContainerStopConfig `mapstructure:"container_stop"`
}

// VolumesConfig is the volume-backup section.
type VolumesConfig struct {
	Enabled       bool                 `mapstructure:"enabled"`
	Items         []VolumeItemConfig   `mapstructure:"items"`
	ContainerStop *ContainerStopConfig `mapstructure:"container_stop"`
}

// Config is the fully-resolved configuration the core consumes. Every
// field here has already had its defaults applied and its relative
// paths resolved against the config file's directory.
type Config struct {
	Database  DatabaseConfig            `mapstructure:"database"`
	Sources   map[string]SourceConfig   `mapstructure:"sources"`
	Local     LocalConfig               `mapstructure:"local"`
	Remote    RemoteConfig              `mapstructure:"remote"`
	Schedules map[string]ScheduleConfig `mapstructure:"schedules"`
	Archive   ArchiveConfig             `mapstructure:"archive"`
	Safety    SafetyConfig              `mapstructure:"safety"`
	Volumes   VolumesConfig             `mapstructure:"volumes"`

	// path and dir record where the config file was loaded from; dir is
	// used to resolve relative paths. Both are empty when Config was
	// built in-memory (e.g. in tests) rather than loaded from disk.
	path string
	dir  string
}

// Path returns the config file this Config was loaded from, or "" when
// it was built in-memory. The run daemon watches this file for edits.
func (c *Config) Path() string { return c.path }

// DefaultContainerStop is the fallback quiesce policy when neither a
// volume item nor the global volumes section specifies one.
var DefaultContainerStop = ContainerStopConfig{
	Stop:              false,
	StopTimeout:       30 * time.Second,
	RestartRetries:    3,
	RestartRetryDelay: 1000 * time.Millisecond,
}

// Load locates a config file (explicit path, or the search chain
// below), applies defaults, binds environment overrides, and returns a
// validated Config.
//
// Search order when path is empty:
//  1. $BACKITUP_CONFIG
//  2. walking up from the current directory for .backitup/config.yaml
//  3. $XDG_CONFIG_HOME/backitup/config.yaml (or ~/.config/backitup/config.yaml)
//  4. ~/.backitup/config.yaml
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	resolved := path
	if resolved == "" {
		resolved = os.Getenv("BACKITUP_CONFIG")
	}
	if resolved == "" {
		resolved = findConfigFile()
	}

	if resolved != "" {
		v.SetConfigFile(resolved)
	}

	v.SetEnvPrefix("BACKITUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if resolved != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", resolved, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if resolved != "" {
		cfg.path = resolved
		cfg.dir = filepath.Dir(resolved)
	}
	cfg.resolveRelativePaths()
	applyCredentialFallback(&cfg.Remote)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", ".backitup/catalog.db")
	v.SetDefault("archive.prefix", "backitup")
	v.SetDefault("archive.compression", 6)
	v.SetDefault("safety.verify_checksum_before_delete", true)
	v.SetDefault("volumes.enabled", false)
	v.SetDefault("volumes.container_stop.stop", DefaultContainerStop.Stop)
	v.SetDefault("volumes.container_stop.stop_timeout", DefaultContainerStop.StopTimeout)
	v.SetDefault("volumes.container_stop.restart_retries", DefaultContainerStop.RestartRetries)
	v.SetDefault("volumes.container_stop.restart_retry_delay", DefaultContainerStop.RestartRetryDelay)
}

// findConfigFile implements the search-path precedence documented on
// Load, returning "" when nothing is found (callers then run on
// defaults plus environment variables).
func findConfigFile() string {
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; ; {
			candidate := filepath.Join(dir, ".backitup", "config.yaml")
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if configDir, err := os.UserConfigDir(); err == nil {
		candidate := filepath.Join(configDir, "backitup", "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, ".backitup", "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return ""
}

// resolveRelativePaths rewrites paths that are relative to the config
// file's directory into absolute paths
func (c *Config) resolveRelativePaths() {
	if c.dir == "" {
		return
	}
	c.Database.Path = c.resolve(c.Database.Path)
	c.Local.Path = c.resolve(c.Local.Path)
	for name, src := range c.Sources {
		src.Path = c.resolve(src.Path)
		c.Sources[name] = src
	}
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.dir, p)
}

// applyCredentialFallback fills each empty remote credential, region,
// and endpoint field from the config -> S3_* -> AWS_* chain.
func applyCredentialFallback(r *RemoteConfig) {
	if !r.Enabled {
		return
	}
	if r.AccessKeyID == "" {
		r.AccessKeyID = firstNonEmptyEnv("S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID")
	}
	if r.SecretAccessKey == "" {
		r.SecretAccessKey = firstNonEmptyEnv("S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY")
	}
	if r.Region == "" {
		r.Region = firstNonEmptyEnv("S3_REGION", "AWS_REGION")
	}
	if r.Endpoint == "" {
		r.Endpoint = firstNonEmptyEnv("S3_ENDPOINT", "AWS_ENDPOINT_URL")
	}
}

func firstNonEmptyEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// Validate enforces the semantic invariants the loader itself, rather
// than the core, is responsible for rejecting up front.
func (c *Config) Validate() error {
	if !c.Local.Enabled && !c.Remote.Enabled {
		return fmt.Errorf("config: at least one of local.enabled or remote.enabled must be true")
	}
	if c.Remote.Enabled {
		if c.Remote.Bucket == "" {
			return fmt.Errorf("config: remote.bucket is required when remote.enabled")
		}
		if c.Remote.AccessKeyID == "" || c.Remote.SecretAccessKey == "" {
			return fmt.Errorf("config: remote credentials are missing (set remote.access_key_id/secret_access_key, S3_*, or AWS_*)")
		}
	}
	if c.Local.Enabled && c.Local.Path == "" {
		return fmt.Errorf("config: local.path is required when local.enabled")
	}

	for name, sched := range c.Schedules {
		if sched.Cron == "" {
			return fmt.Errorf("config: schedule %q: cron is required", name)
		}
		if sched.Retention.MaxCount <= 0 {
			return fmt.Errorf("config: schedule %q: retention.max_count must be greater than zero", name)
		}
		if sched.Retention.MaxDays <= 0 {
			return fmt.Errorf("config: schedule %q: retention.max_days must be greater than zero", name)
		}
		for _, srcName := range sched.Sources {
			if _, ok := c.Sources[srcName]; !ok {
				return fmt.Errorf("config: schedule %q references unknown source %q", name, srcName)
			}
		}
	}

	return nil
}

// EffectiveContainerStop resolves the per-volume quiesce policy: a
// per-volume-item override wins, falling back to the global
// volumes.container_stop, falling back to DefaultContainerStop.
func (c *Config) EffectiveContainerStop(item VolumeItemConfig) ContainerStopConfig {
	if item.ContainerStop != nil {
		return *item.ContainerStop
	}
	if c.Volumes.ContainerStop != nil {
		return *c.Volumes.ContainerStop
	}
	return DefaultContainerStop
}
