package acquire

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	serial "github.com/luhtfiimanal/serial-source"
)

// Connection is the live, validated handle to one device. It owns the Lock
// it was created under.
type Connection struct {
	lock        *Lock
	seq         atomic.Uint64
	connectedAt time.Time
}

func newConnection(lock *Lock, at time.Time) *Connection {
	return &Connection{lock: lock, connectedAt: at}
}

// Path returns the device path the connection was acquired on.
func (c *Connection) Path() string { return c.lock.Path() }

// LockKind names the lock strategy protecting the connection.
func (c *Connection) LockKind() string { return c.lock.Kind() }

// Sequence returns how many records have been read on this connection.
func (c *Connection) Sequence() uint64 { return c.seq.Load() }

// ConnectedAt returns when the connection was committed.
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// Close closes the port and releases the lock. Idempotent.
func (c *Connection) Close() error { return c.lock.Release() }

// Reader reads single records from a Connection.
type Reader struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

// ReadOne reads exactly one line. It returns a nil Record for a timeout or a
// non-JSON line, ErrDecodeNoise for a malformed JSON line and an
// *IOFaultError for any other read failure.
func (r *Reader) ReadOne(conn *Connection) (Record, error) {
	if conn == nil {
		return nil, ErrNotConnected
	}
	raw, err := conn.lock.Port().ReadLine(r.Timeout)
	if err != nil {
		if errors.Is(err, serial.ErrTimeout) {
			return nil, nil
		}
		return nil, &IOFaultError{Path: conn.Path(), Err: err}
	}

	line := sanitizeLine(raw)
	if !strings.HasPrefix(line, "{") {
		return nil, nil
	}
	rec, err := decodeRecord(line)
	if err != nil {
		if r.Logger != nil {
			r.Logger.Debug("discarding malformed line", "device", conn.Path(), "line", line, "error", err)
		}
		return nil, fmt.Errorf("%w: %v", ErrDecodeNoise, err)
	}
	conn.seq.Add(1)
	return rec, nil
}
