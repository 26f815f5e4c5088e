package acquire

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is to check for them.
var (
	// ErrDeviceBusy means another owner holds the device. The candidate is
	// skipped for this cycle.
	ErrDeviceBusy = errors.New("acquire: device busy")

	// ErrAcquisitionExhausted means no candidate was locked, opened and validated.
	ErrAcquisitionExhausted = errors.New("acquire: no candidate device accepted")

	// ErrExplicitDeviceFailed means the configured explicit device could not be
	// acquired. Auto-detection is never attempted in that case.
	ErrExplicitDeviceFailed = errors.New("acquire: explicit device unusable")

	// ErrDecodeNoise marks a single malformed line during steady-state reading.
	ErrDecodeNoise = errors.New("acquire: malformed line")

	// ErrTerminated is the fail-fast terminal signal. It is returned once.
	ErrTerminated = errors.New("acquire: terminated")

	// ErrShutdown is returned by operations interrupted by Shutdown.
	ErrShutdown = errors.New("acquire: controller shut down")

	// ErrNotConnected is returned by the Reader when given no connection.
	ErrNotConnected = errors.New("acquire: not connected")
)

// DeviceOpenError is a transient, non-locking failure to open a candidate
// (permissions, device vanished mid-open). The path stays eligible next cycle.
type DeviceOpenError struct {
	Path string
	Err  error
}

func (e *DeviceOpenError) Error() string {
	return fmt.Sprintf("acquire: open %s: %v", e.Path, e.Err)
}

func (e *DeviceOpenError) Unwrap() error { return e.Err }

// ValidationError reports a candidate that opened but did not produce a
// well-formed record within the probe window.
type ValidationError struct {
	Path   string
	Reason Reason
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("acquire: validate %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("acquire: validate %s: %s", e.Path, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IOFaultError is a read failure on a live connection. It moves the
// Controller from Connected to Disconnected.
type IOFaultError struct {
	Path string
	Err  error
}

func (e *IOFaultError) Error() string {
	return fmt.Sprintf("acquire: i/o fault on %s: %v", e.Path, e.Err)
}

func (e *IOFaultError) Unwrap() error { return e.Err }
