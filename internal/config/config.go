package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. EVALERT_LISTEN.
const EnvPrefix = "EVALERT_"

const (
	defaultListen          = "127.0.0.1:8080"
	defaultTimezone        = "UTC"
	defaultLookaheadHours  = 24
	defaultDurationMinutes = 60
	defaultStrategy        = "pairwise"
	defaultSweepCron       = "*/5 * * * *"
	defaultICSRefreshCron  = "*/15 * * * *"
	defaultQueueSize       = 256
	defaultDedupeSize      = 4096
	defaultLogLevel        = "info"
	defaultLogFormat       = "console"
	defaultCacheDir        = "./var/ics-cache"
)

// ICSConfig is one subscribed calendar feed. Its events belong to Owner.
type ICSConfig struct {
	ID    string `yaml:"id" json:"id"`
	URL   string `yaml:"url" json:"url"`
	Owner string `yaml:"owner" json:"owner"`
}

// BasicAuthConfig enables HTTP basic auth on everything but /health.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used for naive timestamps and messages.
	Timezone string `yaml:"timezone" json:"timezone"`

	LookaheadHours         int    `yaml:"lookahead_hours" json:"lookahead_hours"`
	DefaultDurationMinutes int    `yaml:"default_duration_minutes" json:"default_duration_minutes"`
	ConflictStrategy       string `yaml:"conflict_strategy" json:"conflict_strategy"`
	SortUpcoming           bool   `yaml:"sort_upcoming" json:"sort_upcoming"`

	// SweepCron and ICSRefreshCron are 5-field cron schedules. "off" disables
	// the job.
	SweepCron      string `yaml:"sweep" json:"sweep"`
	ICSRefreshCron string `yaml:"ics_refresh" json:"ics_refresh"`

	NotifyQueueSize    int `yaml:"notify_queue_size" json:"notify_queue_size"`
	ReminderDedupeSize int `yaml:"reminder_dedupe_size" json:"reminder_dedupe_size"`

	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	// CacheDir holds the per-feed HTTP cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	ICS []ICSConfig `yaml:"ics" json:"ics"`

	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Listen:                 defaultListen,
		Timezone:               defaultTimezone,
		LookaheadHours:         defaultLookaheadHours,
		DefaultDurationMinutes: defaultDurationMinutes,
		ConflictStrategy:       defaultStrategy,
		SweepCron:              defaultSweepCron,
		ICSRefreshCron:         defaultICSRefreshCron,
		NotifyQueueSize:        defaultQueueSize,
		ReminderDedupeSize:     defaultDedupeSize,
		LogLevel:               defaultLogLevel,
		LogFormat:              defaultLogFormat,
		CacheDir:               defaultCacheDir,
		ICS:                    []ICSConfig{},
	}
}

// ScheduleOff disables a cron job.
const ScheduleOff = "off"

// Normalize fills zero values with defaults so partial files still work.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.LookaheadHours <= 0 {
		c.LookaheadHours = defaultLookaheadHours
	}
	if c.DefaultDurationMinutes <= 0 {
		c.DefaultDurationMinutes = defaultDurationMinutes
	}
	c.ConflictStrategy = strings.ToLower(strings.TrimSpace(c.ConflictStrategy))
	if c.ConflictStrategy == "" {
		c.ConflictStrategy = defaultStrategy
	}
	if c.SweepCron == "" {
		c.SweepCron = defaultSweepCron
	}
	if c.ICSRefreshCron == "" {
		c.ICSRefreshCron = defaultICSRefreshCron
	}
	if c.NotifyQueueSize <= 0 {
		c.NotifyQueueSize = defaultQueueSize
	}
	if c.ReminderDedupeSize <= 0 {
		c.ReminderDedupeSize = defaultDedupeSize
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = defaultLogFormat
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
}

// Validate reports every problem in c at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	switch c.ConflictStrategy {
	case "pairwise", "sweep", "sweep-line", "sweepline":
	default:
		errs = append(errs, fmt.Errorf("conflict_strategy %q: want pairwise or sweep", c.ConflictStrategy))
	}
	for name, spec := range map[string]string{"sweep": c.SweepCron, "ics_refresh": c.ICSRefreshCron} {
		if schedule(spec) == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", name, spec, err))
		}
	}
	seen := make(map[string]struct{}, len(c.ICS))
	for i, src := range c.ICS {
		switch {
		case src.ID == "":
			errs = append(errs, fmt.Errorf("ics[%d]: id is required", i))
		case src.URL == "":
			errs = append(errs, fmt.Errorf("ics[%d] %s: url is required", i, src.ID))
		case src.Owner == "":
			errs = append(errs, fmt.Errorf("ics[%d] %s: owner is required", i, src.ID))
		}
		if _, dup := seen[src.ID]; dup && src.ID != "" {
			errs = append(errs, fmt.Errorf("ics[%d]: duplicate id %s", i, src.ID))
		}
		seen[src.ID] = struct{}{}
	}
	return errors.Join(errs...)
}

// Location loads Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SweepSchedule and RefreshSchedule return the cron spec, or "" when the job
// is off.
func (c *Config) SweepSchedule() string {
	return schedule(c.SweepCron)
}

func (c *Config) RefreshSchedule() string {
	return schedule(c.ICSRefreshCron)
}

func schedule(spec string) string {
	if strings.EqualFold(strings.TrimSpace(spec), ScheduleOff) {
		return ""
	}
	return spec
}

func (c *Config) Lookahead() time.Duration {
	return time.Duration(c.LookaheadHours) * time.Hour
}

func (c *Config) DefaultDuration() time.Duration {
	return time.Duration(c.DefaultDurationMinutes) * time.Minute
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment. A missing file is not an error; existing variables win.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from EVALERT_* variables found through lookup
// (os.LookupEnv in production).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = n
	}

	str("LISTEN", &c.Listen)
	str("TIMEZONE", &c.Timezone)
	num("LOOKAHEAD_HOURS", &c.LookaheadHours)
	num("DEFAULT_DURATION_MINUTES", &c.DefaultDurationMinutes)
	str("CONFLICT_STRATEGY", &c.ConflictStrategy)
	str("SWEEP", &c.SweepCron)
	str("ICS_REFRESH", &c.ICSRefreshCron)
	num("NOTIFY_QUEUE_SIZE", &c.NotifyQueueSize)
	num("REMINDER_DEDUPE_SIZE", &c.ReminderDedupeSize)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("CACHE_DIR", &c.CacheDir)

	user, hasUser := lookup(EnvPrefix + "BASIC_AUTH_USERNAME")
	pass, hasPass := lookup(EnvPrefix + "BASIC_AUTH_PASSWORD")
	if hasUser || hasPass {
		if c.BasicAuth == nil {
			c.BasicAuth = &BasicAuthConfig{}
		}
		if hasUser {
			c.BasicAuth.Username = user
		}
		if hasPass {
			c.BasicAuth.Password = pass
		}
	}

	if v, ok := lookup(EnvPrefix + "SORT_UPCOMING"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSORT_UPCOMING: %w", EnvPrefix, err))
		} else {
			c.SortUpcoming = b
		}
	}

	c.Normalize()
	return errors.Join(errs...)
}

// Load reads the YAML config at path. On first run (no file) it writes the
// defaults there with 0600 permissions and returns them.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg to path atomically (temp file in the same directory, then
// rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".evalert-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
