package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/benaskins/keyitems/internal/keychain"
)

// Config holds persistent configuration loaded from ~/.keyitems/config.yaml.
type Config struct {
	Service      string        `yaml:"service"`
	Backend      string        `yaml:"backend"`
	DataDir      string        `yaml:"data_dir"`
	AuditLog     string        `yaml:"audit_log"`
	APIAddr      string        `yaml:"api_addr"`
	SocketPath   string        `yaml:"socket_path"`
	LogLevel     string        `yaml:"log_level"`
	Seed         bool          `yaml:"seed"`
	PollInterval time.Duration `yaml:"poll_interval"`
	RateLimit    float64       `yaml:"rate_limit"` // API requests per second, 0 = unlimited
}

// Home returns the keyitems home directory (~/.keyitems).
func Home() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".keyitems")
}

// DefaultPath returns the default config file path: ~/.keyitems/config.yaml.
func DefaultPath() string {
	h := Home()
	if h == "" {
		return ""
	}
	return filepath.Join(h, "config.yaml")
}

// Defaults returns the configuration used when nothing is set. The platform
// Keychain is the default backend on macOS; elsewhere entries live in SQLite,
// which the daemon and CLI can open at the same time.
func Defaults() *Config {
	return defaultsFor(runtime.GOOS)
}

func defaultsFor(goos string) *Config {
	home := Home()
	backend := keychain.BackendSQLite
	if goos == "darwin" {
		backend = keychain.BackendKeychain
	}
	return &Config{
		Service:      keychain.DefaultService,
		Backend:      backend,
		DataDir:      filepath.Join(home, "data"),
		AuditLog:     filepath.Join(home, "audit.log"),
		SocketPath:   filepath.Join(home, "keyitems.sock"),
		LogLevel:     "info",
		PollInterval: 5 * time.Second,
		RateLimit:    50,
	}
}

// Load reads a YAML config file from path. If the file does not exist,
// it returns an empty Config and no error. An empty or all-comment file
// also returns an empty Config with no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve loads path and layers it over Defaults, then applies environment
// overrides from getenv. Flags are applied by the caller afterwards.
func Resolve(path string, getenv func(string) string) (*Config, error) {
	file, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	cfg := Defaults()
	cfg.merge(file)
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// merge copies every non-zero field of o over c.
func (c *Config) merge(o *Config) {
	if o.Service != "" {
		c.Service = o.Service
	}
	if o.Backend != "" {
		c.Backend = o.Backend
	}
	if o.DataDir != "" {
		c.DataDir = o.DataDir
	}
	if o.AuditLog != "" {
		c.AuditLog = o.AuditLog
	}
	if o.APIAddr != "" {
		c.APIAddr = o.APIAddr
	}
	if o.SocketPath != "" {
		c.SocketPath = o.SocketPath
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.Seed {
		c.Seed = true
	}
	if o.PollInterval != 0 {
		c.PollInterval = o.PollInterval
	}
	if o.RateLimit != 0 {
		c.RateLimit = o.RateLimit
	}
}

func (c *Config) applyEnv(getenv func(string) string) error {
	env := &Config{
		Service:    getenv("KEYITEMS_SERVICE"),
		Backend:    getenv("KEYITEMS_BACKEND"),
		DataDir:    getenv("KEYITEMS_DATA_DIR"),
		AuditLog:   getenv("KEYITEMS_AUDIT_LOG"),
		APIAddr:    getenv("KEYITEMS_API_ADDR"),
		SocketPath: getenv("KEYITEMS_SOCKET"),
		LogLevel:   getenv("KEYITEMS_LOG_LEVEL"),
	}
	if v := getenv("KEYITEMS_SEED"); v != "" {
		seed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("KEYITEMS_SEED: %w", err)
		}
		env.Seed = seed
	}
	if v := getenv("KEYITEMS_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("KEYITEMS_POLL_INTERVAL: %w", err)
		}
		env.PollInterval = d
	}
	c.merge(env)
	return nil
}

// Validate checks that the configuration names a usable service and backend.
// Badger is accepted but can only be opened by one process at a time.
func (c *Config) Validate() error {
	if c.Service == "" {
		return errors.New("service must not be empty")
	}
	if !slices.Contains(keychain.Backends, c.Backend) {
		return fmt.Errorf("unknown backend %q (want one of %v)", c.Backend, keychain.Backends)
	}
	if c.Backend != keychain.BackendKeychain && c.Backend != keychain.BackendMemory && c.DataDir == "" {
		return fmt.Errorf("backend %q requires data_dir", c.Backend)
	}
	if c.PollInterval < 0 {
		return errors.New("poll_interval must not be negative")
	}
	if c.RateLimit < 0 {
		return errors.New("rate_limit must not be negative")
	}
	return nil
}
