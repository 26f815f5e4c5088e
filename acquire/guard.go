package acquire

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	serial "github.com/luhtfiimanal/serial-source"
)

// Port is the line-oriented device handle the acquisition layer drives.
// *serial.Port implements it.
type Port interface {
	ReadLine(timeout time.Duration) ([]byte, error)
	Flush() error
	Close() error
}

// OpenFunc opens a device path, requesting OS-native exclusivity when
// exclusive is set. It reports serial.ErrBusy when another owner holds the
// device and serial.ErrExclusiveUnsupported when exclusivity is unavailable.
type OpenFunc func(path string, exclusive bool) (Port, error)

// SerialOpener opens real serial ports at the given baud rate.
func SerialOpener(baudRate int) OpenFunc {
	return func(path string, exclusive bool) (Port, error) {
		p, err := serial.Open(serial.Config{
			Device:    path,
			BaudRate:  baudRate,
			Exclusive: exclusive,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Lock is exclusive ownership of one device path together with the port
// opened under it. Release undoes exactly the mechanisms that produced it.
type Lock struct {
	path string
	kind string
	port Port
	undo []func() error

	once sync.Once
}

func newLock(path, kind string, port Port, undo ...func() error) *Lock {
	return &Lock{path: path, kind: kind, port: port, undo: undo}
}

// Path returns the locked device path.
func (l *Lock) Path() string { return l.path }

// Kind names the strategy that produced the lock ("native", "lockfile",
// "lockfile+native").
func (l *Lock) Kind() string { return l.kind }

// Port returns the port opened under the lock.
func (l *Lock) Port() Port { return l.port }

// Release closes the port and drops the lock. Only the first call has an
// effect; releasing a nil or zero Lock is a no-op.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	var errs []error
	l.once.Do(func() {
		for i := len(l.undo) - 1; i >= 0; i-- {
			if err := l.undo[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// Strategy is one way of obtaining exclusive ownership of a device.
type Strategy interface {
	Name() string
	Acquire(path string) (*Lock, error)
}

// LockMode selects the strategies a Guard uses.
type LockMode string

const (
	// LockAuto uses OS-native exclusivity, falling back to a lock file
	// where the device or platform cannot provide it.
	LockAuto LockMode = "auto"
	// LockNative uses OS-native exclusivity only.
	LockNative LockMode = "native"
	// LockFile uses the advisory lock file only.
	LockFile LockMode = "lockfile"
	// LockBoth composes the lock file with native exclusivity, degrading to
	// the lock file alone where native exclusivity is unavailable.
	LockBoth LockMode = "both"
)

// ParseLockMode parses a lock mode name. The empty string selects LockAuto.
func ParseLockMode(s string) (LockMode, error) {
	switch m := LockMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return LockAuto, nil
	case LockAuto, LockNative, LockFile, LockBoth:
		return m, nil
	default:
		return "", fmt.Errorf("unknown lock mode %q (want auto, native, lockfile or both)", s)
	}
}

// Guard claims sole ownership of device paths. Strategies are tried in
// order; a strategy reporting serial.ErrExclusiveUnsupported hands over to
// the next one. Any other outcome is final.
type Guard struct {
	strategies []Strategy
	log        *slog.Logger
}

// GuardOptions configures NewGuard.
type GuardOptions struct {
	Mode              LockMode
	LockDir           string
	StaleLockRecovery bool
	Open              OpenFunc
	Logger            *slog.Logger
}

// NewGuard builds a Guard for the given mode.
func NewGuard(opts GuardOptions) *Guard {
	if opts.LockDir == "" {
		opts.LockDir = os.TempDir()
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	native := nativeStrategy{open: opts.Open}
	lockfile := func(exclusive bool) Strategy {
		return &lockFileStrategy{
			dir:           opts.LockDir,
			open:          opts.Open,
			exclusive:     exclusive,
			staleRecovery: opts.StaleLockRecovery,
			pid:           os.Getpid(),
		}
	}

	var strategies []Strategy
	switch opts.Mode {
	case LockNative:
		strategies = []Strategy{native}
	case LockFile:
		strategies = []Strategy{lockfile(false)}
	case LockBoth:
		strategies = []Strategy{lockfile(true), lockfile(false)}
	default:
		strategies = []Strategy{native, lockfile(false)}
	}
	return NewGuardWithStrategies(opts.Logger, strategies...)
}

// NewGuardWithStrategies builds a Guard over explicit strategies.
func NewGuardWithStrategies(log *slog.Logger, strategies ...Strategy) *Guard {
	if log == nil {
		log = discardLogger()
	}
	return &Guard{strategies: strategies, log: log}
}

// Acquire locks and opens path. It returns ErrDeviceBusy without waiting
// when another owner holds the device, and a *DeviceOpenError when the
// device itself could not be opened.
func (g *Guard) Acquire(path string) (*Lock, error) {
	var lastErr error
	for _, s := range g.strategies {
		lock, err := s.Acquire(path)
		if err == nil {
			return lock, nil
		}
		if errors.Is(err, serial.ErrExclusiveUnsupported) {
			g.log.Debug("lock strategy unavailable", "device", path, "strategy", s.Name(), "error", err)
			lastErr = err
			continue
		}
		return nil, err
	}
	if lastErr == nil {
		lastErr = errors.New("no lock strategy configured")
	}
	return nil, &DeviceOpenError{Path: path, Err: lastErr}
}

type nativeStrategy struct {
	open OpenFunc
}

func (nativeStrategy) Name() string { return "native" }

func (s nativeStrategy) Acquire(path string) (*Lock, error) {
	port, err := s.open(path, true)
	if err != nil {
		return nil, classifyOpenError(path, err)
	}
	return newLock(path, "native", port, port.Close), nil
}

func classifyOpenError(path string, err error) error {
	switch {
	case errors.Is(err, serial.ErrBusy):
		return fmt.Errorf("%w: %s", ErrDeviceBusy, path)
	case errors.Is(err, serial.ErrExclusiveUnsupported):
		return err
	default:
		return &DeviceOpenError{Path: path, Err: err}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
