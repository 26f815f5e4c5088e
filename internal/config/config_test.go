package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/luhtfiimanal/serial-source/acquire"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("SERIAL_SOURCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func TestDefault_IsValid(t *testing.T) {
	require.Empty(t, Default().Validate())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newViper())
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERIAL_SOURCE_DEVICE_RETRY_POLICY", "fail-fast")
	t.Setenv("SERIAL_SOURCE_DEVICE_EXPLICIT_DEVICE_PATH", "/dev/ttyUSB3")
	t.Setenv("SERIAL_SOURCE_DEVICE_PROBE_SETTLE_SECONDS", "0.5")
	t.Setenv("SERIAL_SOURCE_LOGGING_LEVEL", "debug")

	cfg, err := Load(newViper())
	require.NoError(t, err)
	require.Equal(t, "fail-fast", cfg.Device.RetryPolicy)
	require.Equal(t, "/dev/ttyUSB3", cfg.Device.ExplicitDevicePath)
	require.Equal(t, 0.5, cfg.Device.ProbeSettleSeconds)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
device:
  explicit_device_path: /dev/serial/by-id/usb-Arduino
  lock_mode: both
  probe_max_lines: 20
mqtt:
  enabled: true
  broker:
    host: broker.local
`), 0o644))

	v := newViper()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, "/dev/serial/by-id/usb-Arduino", cfg.Device.ExplicitDevicePath)
	require.Equal(t, "both", cfg.Device.LockMode)
	require.Equal(t, 20, cfg.Device.ProbeMaxLines)
	require.True(t, cfg.MQTT.Enabled)
	require.Equal(t, "broker.local", cfg.MQTT.Broker.Host)
	require.Equal(t, 1883, cfg.MQTT.Broker.Port, "unset keys keep defaults")
}

func TestLoad_Invalid(t *testing.T) {
	v := newViper()
	v.Set("device.retry_policy", "sometimes")
	v.Set("device.baud_rate", 12345)

	_, err := Load(v)
	var errs ValidationErrors
	require.ErrorAs(t, err, &errs)
	require.Len(t, errs, 2)
	require.Contains(t, err.Error(), "2 validation errors")
	require.Contains(t, err.Error(), "device.retry_policy")
	require.Contains(t, err.Error(), "device.baud_rate")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero retry interval", func(c *Config) { c.Device.MinRetryIntervalSeconds = 0 }, "device.min_retry_interval_seconds"},
		{"zero max disconnects", func(c *Config) { c.Device.MaxDisconnects = 0 }, "device.max_disconnects"},
		{"zero probe lines", func(c *Config) { c.Device.ProbeMaxLines = 0 }, "device.probe_max_lines"},
		{"negative settle", func(c *Config) { c.Device.ProbeSettleSeconds = -1 }, "device.probe_settle_seconds"},
		{"zero read timeout", func(c *Config) { c.Device.ReadTimeoutSeconds = 0 }, "device.read_timeout_seconds"},
		{"bad lock mode", func(c *Config) { c.Device.LockMode = "mutex" }, "device.lock_mode"},
		{"empty lock dir", func(c *Config) { c.Device.LockDir = "" }, "device.lock_dir"},
		{"bad output", func(c *Config) { c.Agent.Output = "file" }, "agent.output"},
		{"negative interval", func(c *Config) { c.Agent.IntervalMs = -5 }, "agent.interval_ms"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"mqtt without host", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.Broker.Host = "" }, "mqtt.broker.host"},
		{"mqtt bad qos", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"mqtt wildcard topic", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.Topic = "sensors/#" }, "mqtt.topic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			require.Len(t, errs, 1)
			require.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestValidate_MQTTDisabledIsNotChecked(t *testing.T) {
	cfg := Default()
	cfg.MQTT.Broker.Host = ""
	cfg.MQTT.QoS = 9
	require.Empty(t, cfg.Validate())
}

func TestDeviceConfig_Acquire(t *testing.T) {
	d := Default().Device
	d.RetryPolicy = "fail-fast"
	d.LockMode = "lockfile"
	d.MinRetryIntervalSeconds = 1.5
	d.ProbeSettleSeconds = 0
	d.ExplicitDevicePath = "/dev/ttyACM2"

	cfg, err := d.Acquire()
	require.NoError(t, err)
	require.Equal(t, acquire.PolicyFailFast, cfg.Policy)
	require.Equal(t, acquire.LockFile, cfg.LockMode)
	require.Equal(t, 1500*time.Millisecond, cfg.MinRetryInterval)
	require.Zero(t, cfg.ProbeSettle)
	require.Equal(t, time.Second, cfg.ReadTimeout)
	require.Equal(t, "/dev/ttyACM2", cfg.ExplicitDevicePath)
	require.Equal(t, acquire.DefaultClasses, cfg.Classes)

	d.RetryPolicy = "never"
	_, err = d.Acquire()
	require.Error(t, err)
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Device.ExplicitDevicePath = "/dev/ttyUSB0"

	require.NoError(t, WriteFile(cfg, path, false))
	require.Error(t, WriteFile(cfg, path, false))
	require.NoError(t, WriteFile(cfg, path, true))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	v := newViper()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	loaded, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestConfigDir_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	require.Equal(t, "/xdg/serial-source", ConfigDir())
	require.Equal(t, "/xdg/serial-source/config.yaml", ConfigFile())
}
