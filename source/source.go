// Package source adapts an acquire.Controller to a host pipeline that calls
// a setup hook once and then polls for output on its own schedule.
package source

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/luhtfiimanal/serial-source/acquire"
)

// Source produces one encoded record per GetOutput call.
type Source struct {
	ctrl  *acquire.Controller
	log   *slog.Logger
	count atomic.Uint64
}

// New returns a Source over a fresh Controller. opts are passed through to
// acquire.NewController.
func New(cfg acquire.Config, log *slog.Logger, opts ...acquire.Option) *Source {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	opts = append([]acquire.Option{acquire.WithLogger(log)}, opts...)
	return &Source{
		ctrl: acquire.NewController(cfg, opts...),
		log:  log,
	}
}

// Setup performs the initial acquisition. Under retry-forever an empty
// result is not an error: acquisition continues from GetOutput. Under
// fail-fast, or with an explicit device, failure is returned and wraps
// acquire.ErrTerminated.
func (s *Source) Setup(ctx context.Context) error {
	err := s.ctrl.Connect(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, acquire.ErrTerminated):
		return err
	case errors.Is(err, acquire.ErrAcquisitionExhausted):
		s.log.Info("starting without a device", "retry_interval", s.ctrl.Config().MinRetryInterval)
		return nil
	default:
		return err
	}
}

// GetOutput returns one JSON record or the no-data marker. The only error
// it reports is the terminal failure of a fail-fast source, exactly once;
// connection faults are logged and surface as no data.
func (s *Source) GetOutput(ctx context.Context) ([]byte, error) {
	rec, err := s.ctrl.ReadOne(ctx)
	if err != nil {
		if errors.Is(err, acquire.ErrTerminated) {
			return nil, err
		}
		s.log.Debug("no output", "error", err)
	}
	if rec == nil {
		return acquire.NoDataMarker(), nil
	}
	b, err := rec.Encode()
	if err != nil {
		s.log.Debug("encode record", "error", err)
		return acquire.NoDataMarker(), nil
	}
	s.count.Add(1)
	return b, nil
}

// Count returns how many records GetOutput has returned.
func (s *Source) Count() uint64 { return s.count.Load() }

// Healthy reports whether a device is connected.
func (s *Source) Healthy() bool { return s.ctrl.Healthy() }

// Device returns the connected or probed device path.
func (s *Source) Device() string { return s.ctrl.Device() }

// Controller exposes the underlying Controller.
func (s *Source) Controller() *acquire.Controller { return s.ctrl }

// Close releases the device. Safe to call more than once.
func (s *Source) Close() error { return s.ctrl.Shutdown() }
