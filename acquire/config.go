package acquire

import (
	"fmt"
	"strings"
	"time"
)

// Policy decides what a disconnect or a failed acquisition means.
type Policy int

const (
	// PolicyRetryForever treats disconnects as transient and never terminates.
	PolicyRetryForever Policy = iota
	// PolicyFailFast terminates after MaxDisconnects consecutive disconnects,
	// or on initial total failure.
	PolicyFailFast
)

func (p Policy) String() string {
	switch p {
	case PolicyRetryForever:
		return "retry-forever"
	case PolicyFailFast:
		return "fail-fast"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses "retry-forever" or "fail-fast". The empty string
// selects PolicyRetryForever.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "retry-forever", "retry_forever":
		return PolicyRetryForever, nil
	case "fail-fast", "fail_fast":
		return PolicyFailFast, nil
	default:
		return 0, fmt.Errorf("unknown retry policy %q (want retry-forever or fail-fast)", s)
	}
}

// Defaults.
const (
	DefaultMinRetryInterval = 3 * time.Second
	DefaultProbeMaxLines    = 12
	DefaultProbeSettle      = 2 * time.Second
	DefaultReadTimeout      = time.Second
	DefaultBaudRate         = 115200
	DefaultMaxDisconnects   = 1
)

// Config configures a Controller. Zero values select defaults.
type Config struct {
	// ExplicitDevicePath, when set, is the only device tried. Enumeration is
	// skipped and a failed initial acquisition is terminal.
	ExplicitDevicePath string

	Policy Policy

	// MinRetryInterval is the least time between re-acquisition attempts
	// while disconnected.
	MinRetryInterval time.Duration

	// MaxDisconnects is how many consecutive disconnects fail-fast tolerates
	// before terminating. Minimum 1.
	MaxDisconnects int

	ProbeMaxLines int

	// ProbeSettle is waited after opening before trusting output. Unlike the
	// other durations, zero means no delay; DefaultConfig sets two seconds.
	ProbeSettle time.Duration

	// ReadTimeout bounds a single line read, in probes and steady state.
	ReadTimeout time.Duration

	BaudRate int

	LockDir  string
	LockMode LockMode

	// StaleLockRecovery takes over lock files left by dead processes.
	StaleLockRecovery bool

	// CountDecodeNoise makes malformed steady-state lines count toward the
	// fail-fast disconnect limit.
	CountDecodeNoise bool

	// Classes and Fallbacks override the enumerator defaults when non-nil.
	Classes   []string
	Fallbacks []string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Policy:            PolicyRetryForever,
		MinRetryInterval:  DefaultMinRetryInterval,
		MaxDisconnects:    DefaultMaxDisconnects,
		ProbeMaxLines:     DefaultProbeMaxLines,
		ProbeSettle:       DefaultProbeSettle,
		ReadTimeout:       DefaultReadTimeout,
		BaudRate:          DefaultBaudRate,
		LockMode:          LockAuto,
		StaleLockRecovery: true,
	}
}

func (c Config) withDefaults() Config {
	if c.MinRetryInterval <= 0 {
		c.MinRetryInterval = DefaultMinRetryInterval
	}
	if c.MaxDisconnects < 1 {
		c.MaxDisconnects = DefaultMaxDisconnects
	}
	if c.ProbeMaxLines <= 0 {
		c.ProbeMaxLines = DefaultProbeMaxLines
	}
	if c.ProbeSettle < 0 {
		c.ProbeSettle = 0
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.BaudRate <= 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.LockMode == "" {
		c.LockMode = LockAuto
	}
	return c
}
