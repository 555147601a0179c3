// Package config loads the daemon configuration from a JSON file, VKD_*
// environment variables and command line flags, in increasing precedence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/devghori1264/aerophoenix/vkd/internal/storage"
)

// EnvPrefix prefixes every environment override, e.g. VKD_STORAGE_PATH.
const EnvPrefix = "VKD"

var (
	ErrFoundDirectory = errors.New("expected config file, found directory")
	ErrInvalid        = errors.New("invalid configuration")
)

type Config struct {
	Address        string `mapstructure:"address"`
	Port           int    `mapstructure:"port"`
	GRPCAddress    string `mapstructure:"grpc_address"`
	MetricsAddress string `mapstructure:"metrics_address"`
	// AddLatency delays every HTTP request by this many milliseconds.
	AddLatency int  `mapstructure:"add_latency"`
	Debug      bool `mapstructure:"debug"`

	Storage   StorageConfig   `mapstructure:"storage"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Events    EventsConfig    `mapstructure:"events"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
}

type StorageConfig struct {
	// Backend is one of file, badger or sqlite.
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

type RuntimeConfig struct {
	// Host overrides DOCKER_HOST when set.
	Host            string `mapstructure:"host"`
	Image           string `mapstructure:"image"`
	CallbackAddress string `mapstructure:"callback_address"`
	StopTimeout     int    `mapstructure:"stop_timeout"`
}

type EventsConfig struct {
	Buffer int `mapstructure:"buffer"`
}

// NATSConfig enables relaying events to NATS when URL is set.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type ReconcileConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// Default returns the configuration written for a fresh install.
func Default() *Config {
	return &Config{
		Address:        "0.0.0.0",
		Port:           8080,
		GRPCAddress:    ":50051",
		MetricsAddress: ":9090",
		Storage: StorageConfig{
			Backend: storage.BackendFile,
			Path:    "instances.json",
		},
		Runtime: RuntimeConfig{
			Image:           "volkanic/host:latest",
			CallbackAddress: "http://host.docker.internal:8080",
			StopTimeout:     10,
		},
		Events: EventsConfig{Buffer: 4096},
		NATS:   NATSConfig{SubjectPrefix: "vkd.instances"},
		Reconcile: ReconcileConfig{
			Interval:    750 * time.Millisecond,
			LockTimeout: 50 * time.Millisecond,
		},
	}
}

// SetDefaults registers every default with v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("address", d.Address)
	v.SetDefault("port", d.Port)
	v.SetDefault("grpc_address", d.GRPCAddress)
	v.SetDefault("metrics_address", d.MetricsAddress)
	v.SetDefault("add_latency", d.AddLatency)
	v.SetDefault("debug", d.Debug)

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.path", d.Storage.Path)

	v.SetDefault("runtime.host", d.Runtime.Host)
	v.SetDefault("runtime.image", d.Runtime.Image)
	v.SetDefault("runtime.callback_address", d.Runtime.CallbackAddress)
	v.SetDefault("runtime.stop_timeout", d.Runtime.StopTimeout)

	v.SetDefault("events.buffer", d.Events.Buffer)

	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.subject_prefix", d.NATS.SubjectPrefix)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)

	v.SetDefault("reconcile.interval", d.Reconcile.Interval.String())
	v.SetDefault("reconcile.lock_timeout", d.Reconcile.LockTimeout.String())
}

// BindFlags registers the command line overrides on fs and binds them to v.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	fs.StringP("address", "a", "", "HTTP listen address")
	fs.IntP("port", "p", 0, "HTTP listen port")
	fs.Int("add-latency", 0, "milliseconds of latency added to every HTTP request")

	for key, flag := range map[string]string{
		"address":     "address",
		"port":        "port",
		"add_latency": "add-latency",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// New returns a viper instance with defaults and environment overrides wired.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path into v, writing a default file first when path does not
// exist, then decodes and validates the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return nil, fmt.Errorf("%w: %s", ErrFoundDirectory, path)
	case errors.Is(err, os.ErrNotExist):
		if err := WriteDefault(path); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("stat config: %w", err)
	}

	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteDefault writes the default configuration to path as JSON.
func WriteDefault(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	d := viper.New()
	SetDefaults(d)
	raw, err := json.MarshalIndent(d.AllSettings(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case storage.BackendFile, storage.BackendBadger, storage.BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of file, badger, sqlite", c.Storage.Backend))
	}
	if c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if c.Runtime.Image == "" {
		errs = append(errs, errors.New("runtime.image is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.AddLatency < 0 {
		errs = append(errs, errors.New("add_latency must not be negative"))
	}
	if c.Events.Buffer <= 0 {
		errs = append(errs, errors.New("events.buffer must be positive"))
	}
	if c.Reconcile.Interval <= 0 || c.Reconcile.LockTimeout <= 0 {
		errs = append(errs, errors.New("reconcile.interval and reconcile.lock_timeout must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// HTTPAddress joins Address and Port.
func (c *Config) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}
