package acquire

import (
	"fmt"
	"os"
	"sync"
	"time"

	serial "github.com/luhtfiimanal/serial-source"
)

type readResult struct {
	line string
	err  error
}

// fakePort replays queued reads and times out once they run out.
type fakePort struct {
	mu      sync.Mutex
	reads   []readResult
	closed  bool
	flushes int
}

func newFakePort(lines ...string) *fakePort {
	p := &fakePort{}
	for _, l := range lines {
		p.reads = append(p.reads, readResult{line: l})
	}
	return p
}

func (p *fakePort) push(lines ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range lines {
		p.reads = append(p.reads, readResult{line: l})
	}
}

func (p *fakePort) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads = append(p.reads, readResult{err: err})
}

func (p *fakePort) ReadLine(time.Duration) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, serial.ErrClosed
	}
	if len(p.reads) == 0 {
		return nil, serial.ErrTimeout
	}
	r := p.reads[0]
	p.reads = p.reads[1:]
	if r.err != nil {
		return nil, r.err
	}
	return []byte(r.line), nil
}

func (p *fakePort) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushes++
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePort) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reads)
}

// fakeClock only moves when told to, or when After is waited on.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.Advance(d)
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeEnumerator struct {
	mu    sync.Mutex
	paths []string
}

func (e *fakeEnumerator) Enumerate() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.paths...)
}

func (e *fakeEnumerator) set(paths ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paths = paths
}

// fakeGuard hands out queued ports per path and tracks how many locks are
// outstanding at once.
type fakeGuard struct {
	mu      sync.Mutex
	ports   map[string][]*fakePort
	busy    map[string]bool
	calls   []string
	held    int
	maxHeld int
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{ports: map[string][]*fakePort{}, busy: map[string]bool{}}
}

func (g *fakeGuard) add(path string, ports ...*fakePort) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ports[path] = append(g.ports[path], ports...)
}

func (g *fakeGuard) setBusy(path string, busy bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.busy[path] = busy
}

func (g *fakeGuard) Acquire(path string) (*Lock, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, path)
	if g.busy[path] {
		return nil, fmt.Errorf("%w: %s", ErrDeviceBusy, path)
	}
	queue := g.ports[path]
	if len(queue) == 0 {
		return nil, &DeviceOpenError{Path: path, Err: os.ErrNotExist}
	}
	port := queue[0]
	g.ports[path] = queue[1:]

	g.held++
	if g.held > g.maxHeld {
		g.maxHeld = g.held
	}
	release := func() error {
		g.mu.Lock()
		g.held--
		g.mu.Unlock()
		return nil
	}
	return newLock(path, "fake", port, release, port.Close), nil
}

func (g *fakeGuard) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *fakeGuard) outstanding() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}
