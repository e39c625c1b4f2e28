package gwshare

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/sammck-go/wsgateway/pkg/wire"
)

// Config is the configuration for the gateway server. Defaults come from
// the environment; the command line overrides them.
type Config struct {
	// ServiceAddr is the listen address for service connections
	ServiceAddr string `env:"WSGW_SERVICE_ADDR" envDefault:"127.0.0.1:8818"`
	// GatewayAddr is the listen address for client connections
	GatewayAddr string `env:"WSGW_GATEWAY_ADDR" envDefault:"0.0.0.0:8808"`

	LogLevel string `env:"WSGW_LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"WSGW_LOG_FILE"`

	// Wire is the name of the field format used on both listeners
	Wire string `env:"WSGW_WIRE" envDefault:"msgpack"`

	PingInterval     time.Duration `env:"WSGW_PING_INTERVAL" envDefault:"25s"`
	WriteTimeout     time.Duration `env:"WSGW_WRITE_TIMEOUT" envDefault:"10s"`
	HandshakeTimeout time.Duration `env:"WSGW_HANDSHAKE_TIMEOUT" envDefault:"10s"`

	// MaxBacklog is the number of queued outbound frames after which a peer
	// is considered too slow and disconnected
	MaxBacklog int `env:"WSGW_MAX_BACKLOG" envDefault:"1024"`
}

// LoadConfig returns a Config populated from the environment
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks a Config for values the server cannot run with
func (c *Config) Validate() error {
	if c.ServiceAddr == "" {
		return fmt.Errorf("config: service address is empty")
	}
	if c.GatewayAddr == "" {
		return fmt.Errorf("config: gateway address is empty")
	}
	if c.ServiceAddr == c.GatewayAddr {
		return fmt.Errorf("config: service and gateway share address %s", c.ServiceAddr)
	}
	if _, err := wire.FormatByName(c.Wire); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	var level LogLevel
	if err := level.FromString(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.PingInterval <= 0 || c.WriteTimeout <= 0 || c.HandshakeTimeout <= 0 {
		return fmt.Errorf("config: ping interval, write timeout and handshake timeout must be positive")
	}
	if c.MaxBacklog <= 0 {
		return fmt.Errorf("config: max backlog must be positive")
	}
	return nil
}

// GetLogLevel returns the parsed log level, LogLevelInfo if unparseable
func (c *Config) GetLogLevel() LogLevel {
	level := StringToLogLevel(c.LogLevel)
	if level == LogLevelUnknown {
		level = LogLevelInfo
	}
	return level
}
