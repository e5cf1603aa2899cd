package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBackendURL        = "http://localhost:8000"
	DefaultStreamTransport   = "sse"
	DefaultCommandTimeout    = 5 * time.Second
	DefaultBatteryInterval   = time.Minute
	DefaultRequestsPerMinute = 120
)

// Config stores runtime configuration of the dashboard client.
type Config struct {
	Backend     BackendConfig     `yaml:"backend"`
	Battery     BatteryConfig     `yaml:"battery"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Log         LogConfig         `yaml:"log"`
	Drive       DriveConfig       `yaml:"drive"`
}

type BackendConfig struct {
	URL             string        `yaml:"url"`
	StreamTransport string        `yaml:"streamTransport"`
	CommandTimeout  time.Duration `yaml:"commandTimeout"`
}

type BatteryConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// DiagnosticsConfig controls the local diagnostics server. An empty Listen disables it.
type DiagnosticsConfig struct {
	Listen            string `yaml:"listen"`
	RequestsPerMinute int    `yaml:"requestsPerMinute"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DriveConfig struct {
	// Autostart begins a drive as soon as the client is up.
	Autostart bool `yaml:"autostart"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			URL:             DefaultBackendURL,
			StreamTransport: DefaultStreamTransport,
			CommandTimeout:  DefaultCommandTimeout,
		},
		Battery: BatteryConfig{
			Enabled:  true,
			Interval: DefaultBatteryInterval,
		},
		Diagnostics: DiagnosticsConfig{
			RequestsPerMinute: DefaultRequestsPerMinute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// DefaultPath is the configuration file read when no explicit path is given.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("could not determine home directory")
	}
	return filepath.Join(home, ".config", "lumi", "config.yaml"), nil
}

// Load resolves configuration from defaults, the YAML file at path and LUMI_*
// environment variables, in that order. An empty path reads the default file, which
// may be absent; an explicit path must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	ignoreNotFound := false
	if strings.TrimSpace(path) == "" {
		p, err := DefaultPath()
		if err != nil {
			return Config{}, err
		}
		path = p
		ignoreNotFound = true
	}
	if err := cfg.loadFromFile(path, ignoreNotFound); err != nil {
		return Config{}, err
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFromFile(fn string, ignoreNotFound bool) error {
	f, err := os.Open(fn)
	if os.IsNotExist(err) && ignoreNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cannot open configuration file %q: %w", fn, err)
	}
	defer func() {
		_ = f.Close()
	}()

	if err := c.loadFrom(f); err != nil {
		return fmt.Errorf("cannot load configuration file %q: %w", fn, err)
	}
	return nil
}

func (c *Config) loadFrom(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Backend.URL = envOrDefault("LUMI_BACKEND_URL", c.Backend.URL)
	c.Backend.StreamTransport = envOrDefault("LUMI_STREAM_TRANSPORT", c.Backend.StreamTransport)
	c.Backend.CommandTimeout = envOrDefaultDuration("LUMI_COMMAND_TIMEOUT", c.Backend.CommandTimeout)
	c.Battery.Enabled = envOrDefaultBool("LUMI_BATTERY_ENABLED", c.Battery.Enabled)
	c.Battery.Interval = envOrDefaultDuration("LUMI_BATTERY_INTERVAL", c.Battery.Interval)
	c.Diagnostics.Listen = envOrDefault("LUMI_DIAGNOSTICS_LISTEN", c.Diagnostics.Listen)
	c.Diagnostics.RequestsPerMinute = envOrDefaultInt("LUMI_DIAGNOSTICS_RPM", c.Diagnostics.RequestsPerMinute)
	c.Log.Level = envOrDefault("LUMI_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOrDefault("LUMI_LOG_FORMAT", c.Log.Format)
	c.Drive.Autostart = envOrDefaultBool("LUMI_AUTOSTART", c.Drive.Autostart)
}

// Merge overlays every non-zero field of overrides, typically parsed command line
// flags, onto c.
func (c Config) Merge(overrides Config) (Config, error) {
	if err := mergo.Merge(&c, overrides, mergo.WithOverride); err != nil {
		return Config{}, fmt.Errorf("cannot merge configuration: %w", err)
	}
	return c, nil
}

// Validate rejects configurations the client cannot run with.
func (c Config) Validate() error {
	var errs []error

	u, err := url.Parse(strings.TrimSpace(c.Backend.URL))
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("backend.url: %w", err))
	case u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, fmt.Errorf("backend.url: scheme must be http or https, got %q", c.Backend.URL))
	case u.Host == "":
		errs = append(errs, fmt.Errorf("backend.url: missing host in %q", c.Backend.URL))
	}

	switch c.Backend.StreamTransport {
	case "sse", "websocket":
	default:
		errs = append(errs, fmt.Errorf("backend.streamTransport: must be sse or websocket, got %q", c.Backend.StreamTransport))
	}

	if c.Backend.CommandTimeout <= 0 {
		errs = append(errs, fmt.Errorf("backend.commandTimeout: must be positive, got %s", c.Backend.CommandTimeout))
	}
	if c.Battery.Enabled && c.Battery.Interval < time.Second {
		errs = append(errs, fmt.Errorf("battery.interval: must be at least 1s, got %s", c.Battery.Interval))
	}
	if c.Diagnostics.Listen != "" && c.Diagnostics.RequestsPerMinute <= 0 {
		errs = append(errs, fmt.Errorf("diagnostics.requestsPerMinute: must be positive, got %d", c.Diagnostics.RequestsPerMinute))
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format: must be json or console, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// envOrDefaultDuration accepts Go durations ("750ms") and plain milliseconds.
func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
