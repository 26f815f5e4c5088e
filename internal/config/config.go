package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/luhtfiimanal/serial-source/acquire"
)

// Config represents the complete serial-source configuration
type Config struct {
	Device  DeviceConfig  `mapstructure:"device" yaml:"device"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	MQTT    MQTTConfig    `mapstructure:"mqtt" yaml:"mqtt"`
}

// DeviceConfig controls device discovery, locking and validation
type DeviceConfig struct {
	// ExplicitDevicePath disables auto-detection when set
	ExplicitDevicePath string `mapstructure:"explicit_device_path" yaml:"explicit_device_path"`
	// RetryPolicy is "retry-forever" or "fail-fast"
	RetryPolicy             string  `mapstructure:"retry_policy" yaml:"retry_policy"`
	MinRetryIntervalSeconds float64 `mapstructure:"min_retry_interval_seconds" yaml:"min_retry_interval_seconds"`
	// MaxDisconnects is how many consecutive disconnects fail-fast tolerates
	MaxDisconnects     int     `mapstructure:"max_disconnects" yaml:"max_disconnects"`
	ProbeMaxLines      int     `mapstructure:"probe_max_lines" yaml:"probe_max_lines"`
	ProbeSettleSeconds float64 `mapstructure:"probe_settle_seconds" yaml:"probe_settle_seconds"`
	ReadTimeoutSeconds float64 `mapstructure:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	BaudRate           int     `mapstructure:"baud_rate" yaml:"baud_rate"`
	LockDir            string  `mapstructure:"lock_dir" yaml:"lock_dir"`
	// LockMode is one of "auto", "native", "lockfile", "both"
	LockMode          string `mapstructure:"lock_mode" yaml:"lock_mode"`
	StaleLockRecovery bool   `mapstructure:"stale_lock_recovery" yaml:"stale_lock_recovery"`
	CountDecodeNoise  bool   `mapstructure:"count_decode_noise" yaml:"count_decode_noise"`
	// Classes are device name prefixes for auto-detection, in priority order
	Classes   []string `mapstructure:"classes" yaml:"classes"`
	Fallbacks []string `mapstructure:"fallbacks" yaml:"fallbacks"`
}

// AgentConfig controls the host loop
type AgentConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	// IntervalMs is the pause between output polls (0 = poll back to back)
	IntervalMs int `mapstructure:"interval_ms" yaml:"interval_ms"`
	// Output is where records are written: "stdout" or "none"
	Output string `mapstructure:"output" yaml:"output"`
	// SkipEmpty suppresses the no-data marker on the output stream
	SkipEmpty bool `mapstructure:"skip_empty" yaml:"skip_empty"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MQTTConfig controls optional record forwarding to a broker
type MQTTConfig struct {
	Enabled bool         `mapstructure:"enabled" yaml:"enabled"`
	Broker  BrokerConfig `mapstructure:"broker" yaml:"broker"`
	Auth    AuthConfig   `mapstructure:"auth" yaml:"auth"`
	QoS     int          `mapstructure:"qos" yaml:"qos"`
	Retain  bool         `mapstructure:"retain" yaml:"retain"`
	// Topic receives one message per record
	Topic string `mapstructure:"topic" yaml:"topic"`
	// StatusTopic receives "online" on connect and "offline" as last will
	StatusTopic string `mapstructure:"status_topic" yaml:"status_topic"`
}

// BrokerConfig identifies the MQTT broker
type BrokerConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	TLS      bool   `mapstructure:"tls" yaml:"tls"`
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
}

// AuthConfig holds broker credentials
type AuthConfig struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// Default returns a Config with default values
func Default() *Config {
	d := acquire.DefaultConfig()
	return &Config{
		Device: DeviceConfig{
			RetryPolicy:             d.Policy.String(),
			MinRetryIntervalSeconds: d.MinRetryInterval.Seconds(),
			MaxDisconnects:          d.MaxDisconnects,
			ProbeMaxLines:           d.ProbeMaxLines,
			ProbeSettleSeconds:      d.ProbeSettle.Seconds(),
			ReadTimeoutSeconds:      d.ReadTimeout.Seconds(),
			BaudRate:                d.BaudRate,
			LockDir:                 os.TempDir(),
			LockMode:                string(d.LockMode),
			StaleLockRecovery:       d.StaleLockRecovery,
			CountDecodeNoise:        d.CountDecodeNoise,
			Classes:                 acquire.DefaultClasses,
			Fallbacks:               acquire.DefaultFallbacks,
		},
		Agent: AgentConfig{
			Name:       "serial-source",
			IntervalMs: 100,
			Output:     "stdout",
			SkipEmpty:  true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker: BrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS:         1,
			Topic:       "serial-source/records",
			StatusTopic: "serial-source/status",
		},
	}
}

// SetDefaults registers default values with v
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	// Device defaults
	v.SetDefault("device.explicit_device_path", defaults.Device.ExplicitDevicePath)
	v.SetDefault("device.retry_policy", defaults.Device.RetryPolicy)
	v.SetDefault("device.min_retry_interval_seconds", defaults.Device.MinRetryIntervalSeconds)
	v.SetDefault("device.max_disconnects", defaults.Device.MaxDisconnects)
	v.SetDefault("device.probe_max_lines", defaults.Device.ProbeMaxLines)
	v.SetDefault("device.probe_settle_seconds", defaults.Device.ProbeSettleSeconds)
	v.SetDefault("device.read_timeout_seconds", defaults.Device.ReadTimeoutSeconds)
	v.SetDefault("device.baud_rate", defaults.Device.BaudRate)
	v.SetDefault("device.lock_dir", defaults.Device.LockDir)
	v.SetDefault("device.lock_mode", defaults.Device.LockMode)
	v.SetDefault("device.stale_lock_recovery", defaults.Device.StaleLockRecovery)
	v.SetDefault("device.count_decode_noise", defaults.Device.CountDecodeNoise)
	v.SetDefault("device.classes", defaults.Device.Classes)
	v.SetDefault("device.fallbacks", defaults.Device.Fallbacks)

	// Agent defaults
	v.SetDefault("agent.name", defaults.Agent.Name)
	v.SetDefault("agent.interval_ms", defaults.Agent.IntervalMs)
	v.SetDefault("agent.output", defaults.Agent.Output)
	v.SetDefault("agent.skip_empty", defaults.Agent.SkipEmpty)

	// Logging defaults
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("logging.output", defaults.Logging.Output)

	// MQTT defaults
	v.SetDefault("mqtt.enabled", defaults.MQTT.Enabled)
	v.SetDefault("mqtt.broker.host", defaults.MQTT.Broker.Host)
	v.SetDefault("mqtt.broker.port", defaults.MQTT.Broker.Port)
	v.SetDefault("mqtt.broker.tls", defaults.MQTT.Broker.TLS)
	v.SetDefault("mqtt.broker.client_id", defaults.MQTT.Broker.ClientID)
	v.SetDefault("mqtt.auth.username", defaults.MQTT.Auth.Username)
	v.SetDefault("mqtt.auth.password", defaults.MQTT.Auth.Password)
	v.SetDefault("mqtt.qos", defaults.MQTT.QoS)
	v.SetDefault("mqtt.retain", defaults.MQTT.Retain)
	v.SetDefault("mqtt.topic", defaults.MQTT.Topic)
	v.SetDefault("mqtt.status_topic", defaults.MQTT.StatusTopic)
}

// Load reads the configuration from v into a Config struct and validates it
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}

	return &cfg, nil
}

// Acquire converts the device section into an acquire.Config
func (d DeviceConfig) Acquire() (acquire.Config, error) {
	policy, err := acquire.ParsePolicy(d.RetryPolicy)
	if err != nil {
		return acquire.Config{}, err
	}
	mode, err := acquire.ParseLockMode(d.LockMode)
	if err != nil {
		return acquire.Config{}, err
	}
	return acquire.Config{
		ExplicitDevicePath: d.ExplicitDevicePath,
		Policy:             policy,
		MinRetryInterval:   seconds(d.MinRetryIntervalSeconds),
		MaxDisconnects:     d.MaxDisconnects,
		ProbeMaxLines:      d.ProbeMaxLines,
		ProbeSettle:        seconds(d.ProbeSettleSeconds),
		ReadTimeout:        seconds(d.ReadTimeoutSeconds),
		BaudRate:           d.BaudRate,
		LockDir:            d.LockDir,
		LockMode:           mode,
		StaleLockRecovery:  d.StaleLockRecovery,
		CountDecodeNoise:   d.CountDecodeNoise,
		Classes:            d.Classes,
		Fallbacks:          d.Fallbacks,
	}, nil
}

// Interval returns the poll interval as a time.Duration
func (a AgentConfig) Interval() time.Duration {
	return time.Duration(a.IntervalMs) * time.Millisecond
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "serial-source")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".serial-source"
	}
	return filepath.Join(home, ".config", "serial-source")
}

// ConfigFile returns the path to the default config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// WriteFile writes cfg to path as YAML. An existing file is only replaced
// when overwrite is set.
func WriteFile(cfg *Config, path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	// Credentials may end up in this file.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
