package fcgid

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds a Server's tunables. Its fields map 1:1 onto spec.md's
// configuration table; it can be built directly or loaded from a YAML file
// with LoadConfigFile, which replaces the teacher's hand-rolled INI scanner
// (pkg/fpm/config/config.go) with a library the rest of the pack already
// depends on.
type Config struct {
	// BindAddress is the interface to listen on, e.g. "127.0.0.1" or "".
	BindAddress string `yaml:"bind_address"`
	// Port is the TCP port to listen on.
	Port int `yaml:"port"`
	// MaxConcurrentRequests is the number of pre-allocated connection
	// slots. No more than this many connections are served at once.
	MaxConcurrentRequests int `yaml:"max_concurrent_requests"`
	// ConnectionTimeout bounds how long a read or write on an accepted
	// connection may take before it is abandoned. Refreshed on every
	// operation (see internal/worker.deadlineConn), not a one-shot
	// socket option.
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	// MaxHeaderSize bounds the total bytes of FCGI_PARAMS content a
	// single request may send before the connection is closed.
	MaxHeaderSize int `yaml:"max_header_size"`
	// ListenBacklog is the intended OS accept-queue length. Defaults to
	// 2*MaxConcurrentRequests when zero. It is reported in the startup log
	// line only; the listener is opened with the system's default backlog.
	ListenBacklog int `yaml:"listen_backlog"`

	// Handler processes each request. Required; not loaded from YAML.
	Handler Handler `yaml:"-"`
}

const (
	// DefaultConnectionTimeout is used when Config.ConnectionTimeout is zero.
	DefaultConnectionTimeout = 60 * time.Second
	// DefaultMaxHeaderSize is used when Config.MaxHeaderSize is zero.
	DefaultMaxHeaderSize = 16 * 1024
)

// LoadConfigFile reads a YAML file into a Config. The returned Config has
// no Handler set; callers must assign one before calling Server.Serve.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fcgid: read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("fcgid: parse config file: %w", err)
	}
	return &cfg, nil
}

// validate fills in defaults and rejects a Config that cannot start a
// Server, grounded on the teacher's runFPM flag validation
// (cmd/hey-fpm/main.go), which rejects an invalid --pm value the same way
// before ever calling master.NewMaster.
func (c *Config) validate() error {
	if c.Handler == nil {
		return fmt.Errorf("fcgid: Config.Handler is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("fcgid: Config.Port %d out of range", c.Port)
	}
	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("fcgid: Config.MaxConcurrentRequests must be positive")
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = DefaultConnectionTimeout
	}
	if c.MaxHeaderSize <= 0 {
		c.MaxHeaderSize = DefaultMaxHeaderSize
	}
	if c.ListenBacklog <= 0 {
		c.ListenBacklog = 2 * c.MaxConcurrentRequests
	}
	return nil
}
