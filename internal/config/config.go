package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/planthealth/swcache/internal/cache"
	"github.com/planthealth/swcache/internal/worker"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// AppName scopes config, data and log directories.
const AppName = "swcache"

// Config is the effective host configuration.
type Config struct {
	CacheName string        `mapstructure:"cache_name" yaml:"cache_name"`
	Assets    []string      `mapstructure:"assets"     yaml:"assets"`
	Origin    string        `mapstructure:"origin"     yaml:"origin"`
	Listen    string        `mapstructure:"listen"     yaml:"listen"`
	Storage   StorageConfig `mapstructure:"storage"    yaml:"storage"`
	Network   NetworkConfig `mapstructure:"network"    yaml:"network"`
	Install   InstallConfig `mapstructure:"install"    yaml:"install"`
}

// StorageConfig selects and sizes the cache backend.
type StorageConfig struct {
	Backend          string `mapstructure:"backend"           yaml:"backend"`
	Dir              string `mapstructure:"dir"               yaml:"dir"`
	MaxSizeMB        int    `mapstructure:"max_size_mb"       yaml:"max_size_mb"`
	CompressionLevel int    `mapstructure:"compression_level" yaml:"compression_level"`
}

// NetworkConfig configures the origin client.
type NetworkConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"             yaml:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst"               yaml:"burst"`
	UserAgent         string        `mapstructure:"user_agent"          yaml:"user_agent"`
}

// InstallConfig is the host's install policy.
type InstallConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"     yaml:"timeout"`
	Retries    int           `mapstructure:"retries"     yaml:"retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		CacheName: worker.DefaultCacheName,
		Assets:    append([]string(nil), worker.DefaultAssets...),
		Origin:    "http://localhost:3000",
		Listen:    "127.0.0.1:8080",
		Storage: StorageConfig{
			Backend:          string(cache.BackendDisk),
			MaxSizeMB:        100,
			CompressionLevel: 3,
		},
		Network: NetworkConfig{
			Timeout:           30 * time.Second,
			RequestsPerSecond: 20,
			Burst:             10,
			UserAgent:         AppName,
		},
		Install: InstallConfig{
			Timeout:    time.Minute,
			Retries:    0,
			RetryDelay: 2 * time.Second,
		},
	}
}

// SetDefaults registers Default with v so every key is known to viper,
// including ones only set through the environment.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("cache_name", d.CacheName)
	v.SetDefault("assets", d.Assets)
	v.SetDefault("origin", d.Origin)
	v.SetDefault("listen", d.Listen)
	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.dir", d.Storage.Dir)
	v.SetDefault("storage.max_size_mb", d.Storage.MaxSizeMB)
	v.SetDefault("storage.compression_level", d.Storage.CompressionLevel)
	v.SetDefault("network.timeout", d.Network.Timeout)
	v.SetDefault("network.requests_per_second", d.Network.RequestsPerSecond)
	v.SetDefault("network.burst", d.Network.Burst)
	v.SetDefault("network.user_agent", d.Network.UserAgent)
	v.SetDefault("install.timeout", d.Install.Timeout)
	v.SetDefault("install.retries", d.Install.Retries)
	v.SetDefault("install.retry_delay", d.Install.RetryDelay)
}

// Load unmarshals v into a Config, fills in derived paths and validates it.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()
	// Decoding into a non-nil slice keeps its tail.
	cfg.Assets = nil
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}
	if cfg.Assets == nil {
		cfg.Assets = Default().Assets
	}

	if cfg.Storage.Dir == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return Config{}, err
		}
		cfg.Storage.Dir = dir
	}
	cfg.Storage.Dir = ExpandPath(cfg.Storage.Dir)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.CacheName) == "" {
		errs = append(errs, errors.New("cache_name must not be empty"))
	}
	for i, a := range c.Assets {
		if strings.TrimSpace(a) == "" {
			errs = append(errs, fmt.Errorf("assets[%d] must not be empty", i))
		}
	}

	u, err := url.Parse(c.Origin)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("origin: %w", err))
	case u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, fmt.Errorf("origin must be an http or https URL, got %q", c.Origin))
	case u.Host == "":
		errs = append(errs, fmt.Errorf("origin %q has no host", c.Origin))
	}

	switch cache.Backend(c.Storage.Backend) {
	case cache.BackendMemory, cache.BackendDisk, cache.BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be one of memory, disk, sqlite, got %q", c.Storage.Backend))
	}
	if c.Storage.MaxSizeMB < 0 || c.Storage.MaxSizeMB > 100000 {
		errs = append(errs, fmt.Errorf("storage.max_size_mb must be between 0 and 100000, got %d", c.Storage.MaxSizeMB))
	}
	if c.Storage.CompressionLevel < 0 || c.Storage.CompressionLevel > 4 {
		errs = append(errs, fmt.Errorf("storage.compression_level must be between 0 and 4, got %d", c.Storage.CompressionLevel))
	}

	if c.Network.Timeout < 0 {
		errs = append(errs, errors.New("network.timeout must not be negative"))
	}
	if c.Network.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("network.requests_per_second must not be negative"))
	}
	if c.Network.Burst < 0 {
		errs = append(errs, errors.New("network.burst must not be negative"))
	}

	if c.Install.Timeout < 0 {
		errs = append(errs, errors.New("install.timeout must not be negative"))
	}
	if c.Install.Retries < 0 || c.Install.Retries > 10 {
		errs = append(errs, fmt.Errorf("install.retries must be between 0 and 10, got %d", c.Install.Retries))
	}
	if c.Install.RetryDelay < 0 {
		errs = append(errs, errors.New("install.retry_delay must not be negative"))
	}

	return errors.Join(errs...)
}

// OriginURL returns the parsed origin. Call Validate first.
func (c Config) OriginURL() *url.URL {
	u, _ := url.Parse(c.Origin)
	return u
}

// CapacityBytes converts Storage.MaxSizeMB to bytes.
func (c Config) CapacityBytes() int64 {
	return int64(c.Storage.MaxSizeMB) * 1024 * 1024
}

// BackendConfig returns the cache backend settings.
func (c Config) BackendConfig() cache.BackendConfig {
	return cache.BackendConfig{
		Backend:          cache.Backend(c.Storage.Backend),
		Dir:              c.Storage.Dir,
		Capacity:         c.CapacityBytes(),
		CompressionLevel: c.Storage.CompressionLevel,
	}
}

// YAML renders the configuration as a config file.
func (c Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("unable to encode config: %w", err)
	}
	return out, nil
}

// DefaultDataDir is where persistent caches live when storage.dir is unset.
func DefaultDataDir() (string, error) {
	dirs, err := gap.NewScope(gap.User, AppName).DataDirs()
	if err != nil || len(dirs) == 0 {
		return "", fmt.Errorf("could not find data directory: %w", err)
	}
	return filepath.Join(dirs[0], "caches"), nil
}

// ExpandPath expands a leading ~ and environment variables in path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	if expanded, err := homedir.Expand(path); err == nil {
		path = expanded
	}
	return filepath.Clean(os.ExpandEnv(path))
}
