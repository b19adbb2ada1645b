package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// Default values applied when keys are absent from the config file.
const (
	DefaultDelay         = 2 // seconds
	DefaultOutput        = true
	DefaultLogLevel      = "info"
	DefaultInfluxPort    = 8086
	DefaultDatabase      = "plex_data"
	DefaultMeasurement   = "ups"
	DefaultInfluxTimeout = 10 // seconds
	DefaultUPSSource     = SourcePPBE
	DefaultUPSPort       = 3052
	DefaultSocketPath    = "/var/pwrstatd.ipc"
	DefaultUPSTimeout    = 10   // seconds
	DefaultRedisTTL      = 3600 // seconds
)

// Supported UPS data sources.
const (
	// SourcePPBE is the PowerPanel Business agent HTTP endpoint.
	SourcePPBE = "ppbe"
	// SourcePwrstat is the PowerPanel Personal daemon's local status socket.
	SourcePwrstat = "pwrstat"
)

// Config is the top-level agent configuration. It is loaded once at startup
// and passed by value to the components that need it; nothing mutates it
// after Load returns.
type Config struct {
	General  GeneralConfig  `yaml:"general"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	UPS      UPSConfig      `yaml:"ups"`
	Redis    RedisConfig    `yaml:"redis"`
}

// GeneralConfig holds loop and observability settings.
type GeneralConfig struct {
	// Delay is the pause between poll cycles, in seconds.
	Delay int `yaml:"delay"`

	// Output echoes every outgoing batch to the log before it is written.
	Output bool `yaml:"output"`

	// LogLevel is one of debug | info | warn | error. It is the only setting
	// applied on hot reload.
	LogLevel string `yaml:"log_level"`

	// MetricsAddress is the listen address for the Prometheus /metrics
	// endpoint (e.g. ":9102"). Empty disables it.
	MetricsAddress string `yaml:"metrics_address"`
}

// InfluxDBConfig describes the time-series database the measurements land in.
type InfluxDBConfig struct {
	Address     string            `yaml:"address"`
	Port        int               `yaml:"port"`
	Database    string            `yaml:"database"`
	Username    string            `yaml:"username"`
	Password    string            `yaml:"password"`
	Measurement string            `yaml:"measurement"`
	Tags        map[string]string `yaml:"tags"`

	// Timeout bounds each write or query, in seconds.
	Timeout int `yaml:"timeout"`
}

// UPSConfig selects and locates the UPS data source.
type UPSConfig struct {
	// Source is ppbe or pwrstat.
	Source string `yaml:"source"`

	// Address and Port locate the PowerPanel agent (ppbe only).
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`

	// Socket is the pwrstatd IPC socket path (pwrstat only).
	Socket string `yaml:"socket"`

	// Timeout bounds each fetch, in seconds.
	Timeout int `yaml:"timeout"`
}

// RedisConfig configures the optional latest-status cache. An empty Address
// disables it.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// TTL is the expiry of the latest-status key, in seconds.
	TTL int `yaml:"ttl"`
}

// DelayDuration returns Delay as a time.Duration.
func (g GeneralConfig) DelayDuration() time.Duration {
	return time.Duration(g.Delay) * time.Second
}

// Level returns the configured slog level. Load has already validated it.
func (g GeneralConfig) Level() slog.Level {
	lvl, err := ParseLevel(g.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// URL returns the base HTTP URL of the InfluxDB API.
func (c InfluxDBConfig) URL() string {
	return "http://" + net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

// TimeoutDuration returns Timeout as a time.Duration.
func (c InfluxDBConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// StatusURL returns the PowerPanel agent's status script URL.
func (c UPSConfig) StatusURL() string {
	return "http://" + net.JoinHostPort(c.Address, strconv.Itoa(c.Port)) + "/agent/ppbe.js/init_status.js"
}

// TimeoutDuration returns Timeout as a time.Duration.
func (c UPSConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool {
	return c.Address != ""
}

// TTLDuration returns TTL as a time.Duration.
func (c RedisConfig) TTLDuration() time.Duration {
	return time.Duration(c.TTL) * time.Second
}

// Load reads the config file at path. Files ending in .ini or .conf are parsed
// as INI with GENERAL / INFLUXDB / UPS / REDIS sections; anything else as YAML.
// Defaults are applied first, then the file, then environment overrides, and
// the result is validated.
func Load(path string) (*Config, error) {
	cfg := defaults()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".ini", ".conf":
		if err := loadINI(path, cfg); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Delay:    DefaultDelay,
			Output:   DefaultOutput,
			LogLevel: DefaultLogLevel,
		},
		InfluxDB: InfluxDBConfig{
			Port:        DefaultInfluxPort,
			Database:    DefaultDatabase,
			Measurement: DefaultMeasurement,
			Timeout:     DefaultInfluxTimeout,
		},
		UPS: UPSConfig{
			Source:  DefaultUPSSource,
			Port:    DefaultUPSPort,
			Socket:  DefaultSocketPath,
			Timeout: DefaultUPSTimeout,
		},
		Redis: RedisConfig{
			TTL: DefaultRedisTTL,
		},
	}
}

// loadINI overlays the keys present in an INI file onto cfg. Section and key
// names are case-insensitive.
func loadINI(path string, cfg *Config) error {
	f, err := ini.LoadSources(ini.LoadOptions{Insensitive: true}, path)
	if err != nil {
		return fmt.Errorf("parse ini: %w", err)
	}

	general := f.Section("GENERAL")
	influx := f.Section("INFLUXDB")
	ups := f.Section("UPS")
	redis := f.Section("REDIS")

	var tags string
	steps := []error{
		iniInt(general, "Delay", &cfg.General.Delay),
		iniBool(general, "Output", &cfg.General.Output),
		iniString(general, "LogLevel", &cfg.General.LogLevel),
		iniString(general, "MetricsAddress", &cfg.General.MetricsAddress),

		iniString(influx, "Address", &cfg.InfluxDB.Address),
		iniInt(influx, "Port", &cfg.InfluxDB.Port),
		iniString(influx, "Database", &cfg.InfluxDB.Database),
		iniString(influx, "Username", &cfg.InfluxDB.Username),
		iniString(influx, "Password", &cfg.InfluxDB.Password),
		iniString(influx, "Measurement", &cfg.InfluxDB.Measurement),
		iniString(influx, "Tags", &tags),
		iniInt(influx, "Timeout", &cfg.InfluxDB.Timeout),

		iniString(ups, "Source", &cfg.UPS.Source),
		iniString(ups, "Address", &cfg.UPS.Address),
		iniInt(ups, "Port", &cfg.UPS.Port),
		iniString(ups, "Socket", &cfg.UPS.Socket),
		iniInt(ups, "Timeout", &cfg.UPS.Timeout),

		iniString(redis, "Address", &cfg.Redis.Address),
		iniString(redis, "Password", &cfg.Redis.Password),
		iniInt(redis, "DB", &cfg.Redis.DB),
		iniInt(redis, "TTL", &cfg.Redis.TTL),
	}
	for _, err := range steps {
		if err != nil {
			return err
		}
	}

	if tags != "" {
		parsed, err := ParseTags(tags)
		if err != nil {
			return fmt.Errorf("influxdb.tags: %w", err)
		}
		cfg.InfluxDB.Tags = parsed
	}
	return nil
}

func iniString(sec *ini.Section, key string, dst *string) error {
	if sec.HasKey(key) {
		*dst = strings.TrimSpace(sec.Key(key).String())
	}
	return nil
}

func iniInt(sec *ini.Section, key string, dst *int) error {
	if !sec.HasKey(key) {
		return nil
	}
	v, err := sec.Key(key).Int()
	if err != nil {
		return fmt.Errorf("%s.%s: not an integer: %q", sec.Name(), key, sec.Key(key).String())
	}
	*dst = v
	return nil
}

func iniBool(sec *ini.Section, key string, dst *bool) error {
	if !sec.HasKey(key) {
		return nil
	}
	v, err := sec.Key(key).Bool()
	if err != nil {
		return fmt.Errorf("%s.%s: not a boolean: %q", sec.Name(), key, sec.Key(key).String())
	}
	*dst = v
	return nil
}

// ParseTags parses "k=v,k2=v2" into a map. Empty input yields a nil map.
func ParseTags(s string) (map[string]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	tags := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("malformed tag %q, want key=value", pair)
		}
		tags[k] = v
	}
	return tags, nil
}

// ApplyEnvOverrides updates cfg in place with values from environment variables.
// Recognized variables:
//   - UPSSTATS_INFLUXDB_ADDRESS overrides cfg.InfluxDB.Address
//   - UPSSTATS_INFLUXDB_PASSWORD overrides cfg.InfluxDB.Password
//   - UPSSTATS_UPS_ADDRESS overrides cfg.UPS.Address
//   - UPSSTATS_REDIS_PASSWORD overrides cfg.Redis.Password
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("UPSSTATS_INFLUXDB_ADDRESS"); v != "" {
		cfg.InfluxDB.Address = v
	}
	if v := os.Getenv("UPSSTATS_INFLUXDB_PASSWORD"); v != "" {
		cfg.InfluxDB.Password = v
	}
	if v := os.Getenv("UPSSTATS_UPS_ADDRESS"); v != "" {
		cfg.UPS.Address = v
	}
	if v := os.Getenv("UPSSTATS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
}

// ParseLevel maps a level name to an slog.Level. Matching is case-insensitive.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return lvl, nil
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.General.Delay <= 0 {
		return fmt.Errorf("general.delay must be positive")
	}
	if _, err := ParseLevel(cfg.General.LogLevel); err != nil {
		return fmt.Errorf("general.log_level: %w", err)
	}

	if cfg.InfluxDB.Address == "" {
		return fmt.Errorf("influxdb.address is required")
	}
	if !validPort(cfg.InfluxDB.Port) {
		return fmt.Errorf("influxdb.port %d out of range", cfg.InfluxDB.Port)
	}
	if cfg.InfluxDB.Database == "" {
		return fmt.Errorf("influxdb.database is required")
	}
	if cfg.InfluxDB.Measurement == "" {
		return fmt.Errorf("influxdb.measurement is required")
	}
	if cfg.InfluxDB.Timeout <= 0 {
		return fmt.Errorf("influxdb.timeout must be positive")
	}
	for _, k := range sortedKeys(cfg.InfluxDB.Tags) {
		if k == "" || cfg.InfluxDB.Tags[k] == "" {
			return fmt.Errorf("influxdb.tags: empty key or value for %q", k)
		}
	}

	switch cfg.UPS.Source {
	case SourcePPBE:
		if cfg.UPS.Address == "" {
			return fmt.Errorf("ups.address is required for source %q", SourcePPBE)
		}
		if !validPort(cfg.UPS.Port) {
			return fmt.Errorf("ups.port %d out of range", cfg.UPS.Port)
		}
	case SourcePwrstat:
		if cfg.UPS.Socket == "" {
			return fmt.Errorf("ups.socket is required for source %q", SourcePwrstat)
		}
	default:
		return fmt.Errorf("ups.source: unknown source %q", cfg.UPS.Source)
	}
	if cfg.UPS.Timeout <= 0 {
		return fmt.Errorf("ups.timeout must be positive")
	}

	if cfg.Redis.Enabled() {
		if cfg.Redis.TTL <= 0 {
			return fmt.Errorf("redis.ttl must be positive")
		}
		if cfg.Redis.DB < 0 {
			return fmt.Errorf("redis.db must not be negative")
		}
	}
	return nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
