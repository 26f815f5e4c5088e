package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the Controller's acquisition state.
type State int

const (
	StateIdle State = iota
	StateProbing
	StateConnected
	StateDisconnected
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProbing:
		return "probing"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// CandidateSource produces the ordered candidate list for one attempt.
type CandidateSource interface {
	Enumerate() []string
}

// Acquirer claims exclusive ownership of a device path.
type Acquirer interface {
	Acquire(path string) (*Lock, error)
}

// Prober validates a freshly opened device.
type Prober interface {
	Probe(ctx context.Context, src LineSource) Outcome
}

// Option customizes a Controller.
type Option func(*Controller)

// WithLogger sets the logger for status lines (Info) and diagnostics (Debug).
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithEnumerator replaces the candidate source.
func WithEnumerator(e CandidateSource) Option {
	return func(c *Controller) { c.enum = e }
}

// WithGuard replaces the exclusivity guard.
func WithGuard(g Acquirer) Option {
	return func(c *Controller) { c.guard = g }
}

// WithProber replaces the line validator.
func WithProber(p Prober) Option {
	return func(c *Controller) { c.prober = p }
}

// WithOpener replaces how the default guard opens devices.
func WithOpener(open OpenFunc) Option {
	return func(c *Controller) { c.open = open }
}

// Controller selects and holds a single live device. ReadOne is meant to be
// called from one goroutine on the host's cadence; Shutdown, State, Device
// and Healthy are safe from any goroutine.
type Controller struct {
	cfg    Config
	enum   CandidateSource
	guard  Acquirer
	prober Prober
	reader *Reader
	open   OpenFunc
	clock  Clock
	log    *slog.Logger

	// ctx is cancelled by Shutdown and aborts in-flight probes.
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	device      string
	conn        *Connection
	probing     *Lock
	lastAttempt time.Time
	disconnects int // consecutive, reset by a successful record
	signalled   bool
	shutdown    bool
}

// NewController returns an idle Controller.
func NewController(cfg Config, opts ...Option) *Controller {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:    cfg,
		clock:  RealClock(),
		log:    discardLogger(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.open == nil {
		c.open = SerialOpener(cfg.BaudRate)
	}
	if c.enum == nil {
		c.enum = NewEnumerator(cfg.Classes, cfg.Fallbacks)
	}
	if c.guard == nil {
		c.guard = NewGuard(GuardOptions{
			Mode:              cfg.LockMode,
			LockDir:           cfg.LockDir,
			StaleLockRecovery: cfg.StaleLockRecovery,
			Open:              c.open,
			Logger:            c.log,
		})
	}
	if c.prober == nil {
		c.prober = &Validator{
			MaxLines:    cfg.ProbeMaxLines,
			Settle:      cfg.ProbeSettle,
			LineTimeout: cfg.ReadTimeout,
			Clock:       c.clock,
			Logger:      c.log,
		}
	}
	c.reader = &Reader{Timeout: cfg.ReadTimeout, Logger: c.log}
	return c
}

// Config returns the effective configuration.
func (c *Controller) Config() Config { return c.cfg }

// State returns the current acquisition state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Device returns the path being probed or held, or "" when none.
func (c *Controller) Device() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device
}

// Healthy reports whether a validated connection is held.
func (c *Controller) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected && !c.shutdown
}

// Connect acquires a device now, bypassing the retry throttle. Under
// fail-fast, or when an explicit device is configured, failure is terminal
// and the returned error wraps ErrTerminated.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.shutdown:
		c.mu.Unlock()
		return ErrShutdown
	case c.state == StateTerminated:
		c.mu.Unlock()
		return ErrTerminated
	case c.state == StateConnected:
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	err := c.acquire(ctx)
	if err == nil || errors.Is(err, ErrShutdown) || ctx.Err() != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.ExplicitDevicePath != "" || c.cfg.Policy == PolicyFailFast {
		if terminal := c.terminateLocked(err); terminal != nil {
			return terminal
		}
		return ErrTerminated
	}
	c.log.Warn("no device available, will retry", "retry_interval", c.cfg.MinRetryInterval)
	return err
}

// ReadOne returns the next record, or nil when there is none this call.
//
// While connected it reads one line. A read fault releases the device and
// is returned once as an *IOFaultError (or, when it exhausts fail-fast, as
// the terminal error). While disconnected it re-acquires at most once per
// MinRetryInterval and otherwise returns immediately. After termination it
// returns nil without touching any device.
func (c *Controller) ReadOne(ctx context.Context) (Record, error) {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil, ErrShutdown
	}
	switch c.state {
	case StateTerminated, StateProbing:
		c.mu.Unlock()
		return nil, nil
	case StateConnected:
		conn := c.conn
		c.mu.Unlock()
		return c.readFrom(conn)
	}
	due := c.lastAttempt.IsZero() || c.clock.Now().Sub(c.lastAttempt) >= c.cfg.MinRetryInterval
	c.mu.Unlock()
	if !due {
		return nil, nil
	}

	err := c.acquire(ctx)
	if err == nil || errors.Is(err, ErrShutdown) || ctx.Err() != nil {
		return nil, err
	}
	return nil, c.reacquireFailed(err)
}

// Shutdown releases the probing lock or live connection immediately and
// makes every later call return ErrShutdown. Idempotent.
func (c *Controller) Shutdown() error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	c.cancel()
	probing, conn := c.probing, c.conn
	c.probing, c.conn = nil, nil
	if c.state != StateTerminated {
		c.state = StateIdle
	}
	c.device = ""
	c.mu.Unlock()

	var errs []error
	if probing != nil {
		errs = append(errs, probing.Release())
	}
	if conn != nil {
		c.log.Info("closing device", "device", conn.Path())
		errs = append(errs, conn.Close())
	}
	return errors.Join(errs...)
}

func (c *Controller) acquire(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	c.mu.Lock()
	c.lastAttempt = c.clock.Now()
	c.mu.Unlock()

	var candidates []string
	if p := c.cfg.ExplicitDevicePath; p != "" {
		c.log.Info("using explicit device", "device", p)
		candidates = []string{p}
	} else {
		candidates = c.enum.Enumerate()
		if len(candidates) == 0 {
			c.log.Info("no candidate devices found")
		}
	}

	for _, path := range candidates {
		if err := c.interrupted(ctx); err != nil {
			c.markDisconnected()
			return err
		}
		ok, err := c.tryCandidate(ctx, path)
		if err != nil {
			c.markDisconnected()
			return err
		}
		if ok {
			return nil
		}
	}
	c.markDisconnected()

	if p := c.cfg.ExplicitDevicePath; p != "" {
		return fmt.Errorf("%w: %w: %s", ErrAcquisitionExhausted, ErrExplicitDeviceFailed, p)
	}
	return ErrAcquisitionExhausted
}

func (c *Controller) markDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown || c.state == StateTerminated || c.state == StateConnected {
		return
	}
	c.state = StateDisconnected
	c.device = ""
}

// tryCandidate runs Guard then Validator on one path. It reports whether
// the path was committed; the error is non-nil only when interrupted.
func (c *Controller) tryCandidate(ctx context.Context, path string) (bool, error) {
	c.mu.Lock()
	c.state = StateProbing
	c.device = path
	c.mu.Unlock()
	c.log.Info("attempting device", "device", path)

	lock, err := c.guard.Acquire(path)
	if err != nil {
		if errors.Is(err, ErrDeviceBusy) {
			c.log.Info("device busy, skipping", "device", path)
		} else {
			c.log.Info("device unavailable, skipping", "device", path)
			c.log.Debug("device open failed", "device", path, "error", err)
		}
		return false, nil
	}
	if !c.track(lock) {
		lock.Release()
		return false, ErrShutdown
	}

	outcome := c.prober.Probe(ctx, lock.Port())
	if !outcome.Accepted {
		c.untrack(lock)
		if err := lock.Release(); err != nil {
			c.log.Debug("release after failed probe", "device", path, "error", err)
		}
		if err := c.interrupted(ctx); err != nil {
			return false, err
		}
		verr := &ValidationError{Path: path, Reason: outcome.Reason, Err: outcome.Err}
		c.log.Info("device did not yield valid JSON, trying next", "device", path, "reason", outcome.Reason.String())
		c.log.Debug("validation failed", "error", verr, "lines", outcome.Lines)
		return false, nil
	}

	if !c.commit(lock) {
		lock.Release()
		return false, ErrShutdown
	}
	c.log.Info("connected", "device", path, "real_path", RealPath(path), "lock", lock.Kind())
	return true, nil
}

func (c *Controller) interrupted(ctx context.Context) error {
	c.mu.Lock()
	down := c.shutdown
	c.mu.Unlock()
	if down {
		return ErrShutdown
	}
	return ctx.Err()
}

func (c *Controller) track(lock *Lock) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return false
	}
	c.probing = lock
	return true
}

func (c *Controller) untrack(lock *Lock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.probing == lock {
		c.probing = nil
	}
}

func (c *Controller) commit(lock *Lock) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.probing == lock {
		c.probing = nil
	}
	if c.shutdown {
		return false
	}
	c.conn = newConnection(lock, c.clock.Now())
	c.state = StateConnected
	c.device = lock.Path()
	return true
}

func (c *Controller) readFrom(conn *Connection) (Record, error) {
	rec, err := c.reader.ReadOne(conn)
	switch {
	case err == nil:
		if rec != nil {
			c.mu.Lock()
			c.disconnects = 0
			c.mu.Unlock()
		}
		return rec, nil
	case errors.Is(err, ErrDecodeNoise):
		return nil, c.decodeNoise(conn, err)
	default:
		return nil, c.disconnect(conn, err)
	}
}

func (c *Controller) decodeNoise(conn *Connection, cause error) error {
	if !c.cfg.CountDecodeNoise || c.cfg.Policy != PolicyFailFast {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return nil
	}
	c.disconnects++
	if c.disconnects < c.cfg.MaxDisconnects {
		return nil
	}
	c.dropLocked()
	return c.terminateLocked(cause)
}

func (c *Controller) disconnect(conn *Connection, cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return ErrShutdown
	}
	if c.conn != conn {
		return nil
	}
	c.dropLocked()
	c.lastAttempt = c.clock.Now()
	c.disconnects++
	c.log.Warn("lost connection", "device", conn.Path(), "records", conn.Sequence())
	c.log.Debug("read failure", "device", conn.Path(), "error", cause)

	if c.cfg.Policy == PolicyFailFast && c.disconnects >= c.cfg.MaxDisconnects {
		return c.terminateLocked(cause)
	}
	return cause
}

func (c *Controller) reacquireFailed(cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.Policy != PolicyFailFast {
		c.log.Info("no device available, will retry", "retry_interval", c.cfg.MinRetryInterval)
		return nil
	}
	c.disconnects++
	if c.disconnects < c.cfg.MaxDisconnects {
		return nil
	}
	return c.terminateLocked(cause)
}

func (c *Controller) dropLocked() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.log.Debug("close after fault", "device", c.conn.Path(), "error", err)
		}
		c.conn = nil
	}
	c.state = StateDisconnected
	c.device = ""
}

// terminateLocked enters Terminated. Only the first call returns an error.
func (c *Controller) terminateLocked(cause error) error {
	c.state = StateTerminated
	c.device = ""
	if c.signalled {
		return nil
	}
	c.signalled = true
	c.log.Error("giving up", "policy", c.cfg.Policy.String(), "error", cause)
	return fmt.Errorf("%w: %w", ErrTerminated, cause)
}
