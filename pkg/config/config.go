// Package config loads the editor host configuration: an optional YAML file, then environment
// overrides, then validation.
//
// Environment variables:
//
//	EDITORBRIDGE_MODE            editor | player
//	EDITORBRIDGE_FRAME_INTERVAL  main loop interval (e.g. 16ms)
//	EDITORBRIDGE_FAILURE_POLICY  continue | stop
//	EDITORBRIDGE_BASE_PORT       first port of the bridge range
//	EDITORBRIDGE_PORT_SPAN       size of the bridge port range
//	EDITORBRIDGE_HOST            bridge listen host
//	EDITORBRIDGE_REDIS_ADDR      Redis address for the command relay (empty disables it)
//	EDITORBRIDGE_METRICS_ADDR    standalone metrics listener (empty disables it)
//	EDITORBRIDGE_LOG_DIR         directory for the session log file (empty disables it)
//	EDITORBRIDGE_LOG_LEVEL       zerolog level
//	EDITORBRIDGE_TRACE_FILE      OpenTelemetry stdout exporter target (empty disables tracing)
//	API_KEY                      bridge API key (empty disables authentication)
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/guido-cesarano/editorbridge/pkg/dispatch"
	"gopkg.in/yaml.v3"
)

// Environment modes.
const (
	ModeEditor = "editor"
	ModePlayer = "player"
)

// Config is the editor host configuration.
type Config struct {
	// Mode is "editor" (main-thread loop available) or "player" (dispatch unsupported).
	Mode string `yaml:"mode"`

	// FrameInterval is the main loop tick.
	FrameInterval time.Duration `yaml:"frameInterval"`

	// FailurePolicy is "continue" or "stop".
	FailurePolicy string `yaml:"failurePolicy"`

	Bridge  Bridge     `yaml:"bridge"`
	Relay   Relay      `yaml:"relay"`
	Log     Log        `yaml:"log"`
	Metrics Metrics    `yaml:"metrics"`
	Trace   Trace      `yaml:"trace"`
	Jobs    []Schedule `yaml:"jobs"`
}

// Bridge configures the IDE-facing HTTP listener. The port is BasePort + pid % PortSpan.
type Bridge struct {
	Host     string `yaml:"host"`
	BasePort int    `yaml:"basePort"`
	PortSpan int    `yaml:"portSpan"`
	APIKey   string `yaml:"apiKey"`
}

// Relay configures the Redis command relay.
type Relay struct {
	RedisAddr  string `yaml:"redisAddr"`
	MaxRetries int    `yaml:"maxRetries"`
	RateLimit  int    `yaml:"rateLimit"`
	RateBurst  int    `yaml:"rateBurst"`
}

// Log configures the global logger.
type Log struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// Metrics configures the standalone metrics listener.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Trace configures OpenTelemetry.
type Trace struct {
	File string `yaml:"file"`
}

// Schedule is a cron job that executes a menu item on the main thread.
type Schedule struct {
	Spec string `yaml:"spec"`
	Menu string `yaml:"menu"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Mode:          ModeEditor,
		FrameInterval: 16 * time.Millisecond,
		FailurePolicy: "continue",
		Bridge: Bridge{
			Host:     "127.0.0.1",
			BasePort: 46000,
			PortSpan: 1000,
		},
		Relay: Relay{
			MaxRetries: 3,
			RateLimit:  10,
			RateBurst:  20,
		},
		Log: Log{
			Dir:   os.TempDir(),
			Level: "info",
		},
	}
}

// Load reads path (when not empty) over the defaults and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SupportsMainThreadLoop reports whether the mode has a main-thread loop.
func (c *Config) SupportsMainThreadLoop() bool {
	return c.Mode == ModeEditor
}

// Policy returns the parsed failure policy.
func (c *Config) Policy() dispatch.Policy {
	p, _ := dispatch.ParsePolicy(c.FailurePolicy)
	return p
}

// Validate checks the configuration for values the host cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Mode != ModeEditor && c.Mode != ModePlayer {
		errs = append(errs, fmt.Errorf("config: unknown mode %q", c.Mode))
	}
	if c.FrameInterval <= 0 {
		errs = append(errs, errors.New("config: frameInterval must be positive"))
	}
	if _, err := dispatch.ParsePolicy(c.FailurePolicy); err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	}
	if c.Bridge.BasePort <= 0 || c.Bridge.PortSpan <= 0 || c.Bridge.BasePort+c.Bridge.PortSpan > 65535 {
		errs = append(errs, fmt.Errorf("config: bridge port range %d+%d is invalid", c.Bridge.BasePort, c.Bridge.PortSpan))
	}
	if c.Relay.MaxRetries < 0 {
		errs = append(errs, errors.New("config: relay maxRetries must be >= 0"))
	}
	for i, job := range c.Jobs {
		if job.Spec == "" || job.Menu == "" {
			errs = append(errs, fmt.Errorf("config: job %d needs spec and menu", i))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) applyEnv() error {
	setString(&c.Mode, "EDITORBRIDGE_MODE")
	setString(&c.FailurePolicy, "EDITORBRIDGE_FAILURE_POLICY")
	setString(&c.Bridge.Host, "EDITORBRIDGE_HOST")
	setString(&c.Bridge.APIKey, "API_KEY")
	setString(&c.Relay.RedisAddr, "EDITORBRIDGE_REDIS_ADDR")
	setString(&c.Metrics.Addr, "EDITORBRIDGE_METRICS_ADDR")
	setString(&c.Log.Dir, "EDITORBRIDGE_LOG_DIR")
	setString(&c.Log.Level, "EDITORBRIDGE_LOG_LEVEL")
	setString(&c.Trace.File, "EDITORBRIDGE_TRACE_FILE")

	if v, ok := os.LookupEnv("EDITORBRIDGE_FRAME_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: EDITORBRIDGE_FRAME_INTERVAL: %w", err)
		}
		c.FrameInterval = d
	}
	if err := setInt(&c.Bridge.BasePort, "EDITORBRIDGE_BASE_PORT"); err != nil {
		return err
	}
	return setInt(&c.Bridge.PortSpan, "EDITORBRIDGE_PORT_SPAN")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}
