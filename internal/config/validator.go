package config

import (
	"fmt"
	"slices"
	"strings"

	serial "github.com/luhtfiimanal/serial-source"
	"github.com/luhtfiimanal/serial-source/acquire"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "device.baud_rate")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	errs = append(errs, c.validateDevice()...)
	errs = append(errs, c.validateAgent()...)
	errs = append(errs, c.validateLogging()...)
	errs = append(errs, c.validateMQTT()...)
	return errs
}

func (c *Config) validateDevice() []ValidationError {
	var errs []ValidationError
	d := c.Device

	if _, err := acquire.ParsePolicy(d.RetryPolicy); err != nil {
		errs = append(errs, ValidationError{
			Field:   "device.retry_policy",
			Value:   d.RetryPolicy,
			Message: "must be retry-forever or fail-fast",
		})
	}
	if _, err := acquire.ParseLockMode(d.LockMode); err != nil {
		errs = append(errs, ValidationError{
			Field:   "device.lock_mode",
			Value:   d.LockMode,
			Message: "must be auto, native, lockfile or both",
		})
	}
	if d.MinRetryIntervalSeconds <= 0 {
		errs = append(errs, ValidationError{
			Field:   "device.min_retry_interval_seconds",
			Value:   d.MinRetryIntervalSeconds,
			Message: "must be positive",
		})
	}
	if d.MaxDisconnects < 1 {
		errs = append(errs, ValidationError{
			Field:   "device.max_disconnects",
			Value:   d.MaxDisconnects,
			Message: "must be at least 1",
		})
	}
	if d.ProbeMaxLines < 1 {
		errs = append(errs, ValidationError{
			Field:   "device.probe_max_lines",
			Value:   d.ProbeMaxLines,
			Message: "must be at least 1",
		})
	}
	if d.ProbeSettleSeconds < 0 {
		errs = append(errs, ValidationError{
			Field:   "device.probe_settle_seconds",
			Value:   d.ProbeSettleSeconds,
			Message: "must not be negative",
		})
	}
	if d.ReadTimeoutSeconds <= 0 {
		errs = append(errs, ValidationError{
			Field:   "device.read_timeout_seconds",
			Value:   d.ReadTimeoutSeconds,
			Message: "must be positive",
		})
	}
	if !serial.ValidBaudRate(d.BaudRate) {
		errs = append(errs, ValidationError{
			Field:   "device.baud_rate",
			Value:   d.BaudRate,
			Message: "unsupported baud rate",
		})
	}
	if d.LockDir == "" {
		errs = append(errs, ValidationError{
			Field:   "device.lock_dir",
			Value:   d.LockDir,
			Message: "must not be empty",
		})
	}
	return errs
}

func (c *Config) validateAgent() []ValidationError {
	var errs []ValidationError
	if c.Agent.IntervalMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "agent.interval_ms",
			Value:   c.Agent.IntervalMs,
			Message: "must not be negative",
		})
	}
	if !slices.Contains([]string{"stdout", "none"}, c.Agent.Output) {
		errs = append(errs, ValidationError{
			Field:   "agent.output",
			Value:   c.Agent.Output,
			Message: "must be stdout or none",
		})
	}
	return errs
}

func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError
	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of %v", ValidLogLevels()),
		})
	}
	if !slices.Contains([]string{"text", "json"}, strings.ToLower(c.Logging.Format)) {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Value:   c.Logging.Format,
			Message: "must be text or json",
		})
	}
	if !slices.Contains([]string{"stdout", "stderr"}, strings.ToLower(c.Logging.Output)) {
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Value:   c.Logging.Output,
			Message: "must be stdout or stderr",
		})
	}
	return errs
}

func (c *Config) validateMQTT() []ValidationError {
	m := c.MQTT
	if !m.Enabled {
		return nil
	}

	var errs []ValidationError
	if m.Broker.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "mqtt.broker.host",
			Value:   m.Broker.Host,
			Message: "required when mqtt is enabled",
		})
	}
	if m.Broker.Port < 1 || m.Broker.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "mqtt.broker.port",
			Value:   m.Broker.Port,
			Message: "must be between 1 and 65535",
		})
	}
	if m.QoS < 0 || m.QoS > 2 {
		errs = append(errs, ValidationError{
			Field:   "mqtt.qos",
			Value:   m.QoS,
			Message: "must be 0, 1 or 2",
		})
	}
	topics := []struct{ field, topic string }{
		{"mqtt.topic", m.Topic},
		{"mqtt.status_topic", m.StatusTopic},
	}
	for _, t := range topics {
		if t.topic == "" || strings.ContainsAny(t.topic, "+#") {
			errs = append(errs, ValidationError{
				Field:   t.field,
				Value:   t.topic,
				Message: "must be a non-empty topic without wildcards",
			})
		}
	}
	return errs
}
