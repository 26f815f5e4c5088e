package acquire

import (
	"context"
	"errors"
	"log/slog"
	"time"

	serial "github.com/luhtfiimanal/serial-source"
)

// Reason explains a rejected probe.
type Reason int

const (
	// ReasonNoData: nothing but empty reads during the probe window.
	ReasonNoData Reason = iota
	// ReasonMalformedJSON: lines arrived but none was a JSON object.
	ReasonMalformedJSON
	// ReasonDecodeError: the stream failed while being probed.
	ReasonDecodeError
)

func (r Reason) String() string {
	switch r {
	case ReasonNoData:
		return "no-data"
	case ReasonMalformedJSON:
		return "malformed-json"
	case ReasonDecodeError:
		return "decode-error"
	default:
		return "unknown"
	}
}

// Outcome is the result of one probe.
type Outcome struct {
	Accepted bool
	Reason   Reason // meaningful when !Accepted
	Lines    int    // line reads consumed
	Err      error  // read failure or cancellation, if any
}

// LineSource is what a probe reads from.
type LineSource interface {
	ReadLine(timeout time.Duration) ([]byte, error)
	Flush() error
}

// Validator confirms a freshly opened device emits line-delimited JSON.
type Validator struct {
	MaxLines    int
	Settle      time.Duration
	LineTimeout time.Duration
	Clock       Clock
	Logger      *slog.Logger
}

// Probe waits out the settle time, drops whatever accumulated meanwhile and
// reads up to MaxLines lines. The first JSON object line accepts the device.
// Lines not starting with '{' are boot noise and skipped. ctx is checked
// before every read.
func (v *Validator) Probe(ctx context.Context, src LineSource) Outcome {
	clock := v.Clock
	if clock == nil {
		clock = RealClock()
	}
	log := v.Logger
	if log == nil {
		log = discardLogger()
	}

	if err := sleep(ctx, clock, v.Settle); err != nil {
		return Outcome{Reason: ReasonNoData, Err: err}
	}
	if err := src.Flush(); err != nil {
		log.Debug("input flush failed", "error", err)
	}

	seen := false
	for i := 0; i < v.MaxLines; i++ {
		if err := ctx.Err(); err != nil {
			return Outcome{Reason: rejectReason(seen), Lines: i, Err: err}
		}
		raw, err := src.ReadLine(v.LineTimeout)
		if err != nil {
			if errors.Is(err, serial.ErrTimeout) {
				continue
			}
			return Outcome{Reason: ReasonDecodeError, Lines: i + 1, Err: err}
		}
		line := sanitizeLine(raw)
		if line == "" {
			continue
		}
		seen = true
		if isJSONObject(line) {
			return Outcome{Accepted: true, Lines: i + 1}
		}
		log.Debug("probe skipped line", "line", line)
	}
	return Outcome{Reason: rejectReason(seen), Lines: v.MaxLines}
}

func rejectReason(seen bool) Reason {
	if seen {
		return ReasonMalformedJSON
	}
	return ReasonNoData
}
