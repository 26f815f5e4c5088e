package serial

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrClosed is returned by reads on a port that has been closed.
	ErrClosed = errors.New("serial: port closed")

	// ErrTimeout is returned by ReadLine when no complete line arrived in time.
	// Partial input stays buffered for the next call.
	ErrTimeout = errors.New("serial: read timeout")

	// ErrBusy is returned by Open when another owner holds the device exclusively.
	ErrBusy = errors.New("serial: device busy")

	// ErrExclusiveUnsupported is returned by Open when Exclusive is requested
	// but the device or kernel cannot provide exclusive access.
	ErrExclusiveUnsupported = errors.New("serial: exclusive open not supported")
)

// Port is a raw, line-oriented Linux serial port.
// Close may be called from any goroutine and unblocks a pending ReadLine.
type Port struct {
	fd        int
	file      *os.File
	done      chan struct{}
	closeOnce sync.Once
	config    Config
	pipeR     int // self-pipe read fd
	pipeW     int // self-pipe write fd

	readMu  sync.Mutex
	pending []byte
}

// Config holds configuration parameters for opening a serial port.
type Config struct {
	Device    string
	BaudRate  int
	Delimiter string // default "\n"

	// Exclusive takes a non-blocking flock on the device and sets TIOCEXCL,
	// so competing processes see ErrBusy.
	Exclusive bool
}

// Open opens a serial port using the provided Config.
// The port is configured for raw, non-canonical operation.
func Open(cfg Config) (*Port, error) {
	if cfg.Delimiter == "" {
		cfg.Delimiter = "\n"
	}

	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.EBUSY) {
			return nil, fmt.Errorf("%w: %s", ErrBusy, cfg.Device)
		}
		return nil, fmt.Errorf("open failed: %w", err)
	}

	if cfg.Exclusive {
		if err := lockExclusive(fd); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("%w: %s", err, cfg.Device)
		}
	}

	if err := makeRaw(fd, cfg.BaudRate); err != nil {
		unix.Close(fd)
		return nil, err
	}

	// Back to blocking mode; reads only happen after poll reports data.
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set blocking: %w", err)
	}

	// Self-pipe for killability
	pipeFds := make([]int, 2)
	if err := unix.Pipe2(pipeFds, unix.O_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("pipe: %w", err)
	}

	return &Port{
		fd:     fd,
		file:   os.NewFile(uintptr(fd), cfg.Device),
		done:   make(chan struct{}),
		config: cfg,
		pipeR:  pipeFds[0],
		pipeW:  pipeFds[1],
	}, nil
}

func lockExclusive(fd int) error {
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		switch {
		case errors.Is(err, unix.EWOULDBLOCK):
			return ErrBusy
		case unsupported(err):
			return ErrExclusiveUnsupported
		}
		return fmt.Errorf("flock: %w", err)
	}
	if err := unix.IoctlSetInt(fd, unix.TIOCEXCL, 0); err != nil {
		unix.Flock(fd, unix.LOCK_UN)
		if unsupported(err) {
			return ErrExclusiveUnsupported
		}
		return fmt.Errorf("TIOCEXCL: %w", err)
	}
	return nil
}

func unsupported(err error) bool {
	return errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.EINVAL) || errors.Is(err, unix.EOPNOTSUPP)
}

func makeRaw(fd int, baudRate int) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baudToUnix(baudRate)

	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}
	return nil
}

// Name returns the device path the port was opened with.
func (p *Port) Name() string {
	return p.config.Device
}

// WriteLine writes a line (with specified newline) to the serial port.
func (p *Port) WriteLine(line string, newline string) error {
	_, err := p.file.WriteString(line + newline)
	return err
}

// ReadLine returns the next delimiter-terminated line without the delimiter.
// It waits at most timeout (forever when timeout <= 0) and returns ErrTimeout
// if no full line arrived. A hangup or read failure is returned as-is.
func (p *Port) ReadLine(timeout time.Duration) ([]byte, error) {
	p.readMu.Lock()
	defer p.readMu.Unlock()

	if line, ok := p.takeLine(); ok {
		return line, nil
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	buf := make([]byte, 4096)
	for {
		wait := -1
		if timeout > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, ErrTimeout
			}
			wait = int((remaining + time.Millisecond - 1) / time.Millisecond)
		}

		pfd := []unix.PollFd{
			{Fd: int32(p.fd), Events: unix.POLLIN},
			{Fd: int32(p.pipeR), Events: unix.POLLIN},
		}
		n, err := unix.Poll(pfd, wait)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return nil, fmt.Errorf("poll: %w", err)
		}
		select {
		case <-p.done:
			return nil, ErrClosed
		default:
		}
		if pfd[1].Revents != 0 {
			return nil, ErrClosed
		}
		if n == 0 {
			return nil, ErrTimeout
		}

		revents := pfd[0].Revents
		if revents&unix.POLLNVAL != 0 {
			return nil, ErrClosed
		}
		if revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) == 0 {
			continue
		}
		k, err := p.file.Read(buf)
		if err != nil {
			return nil, err
		}
		if k == 0 {
			return nil, io.EOF
		}
		p.pending = append(p.pending, buf[:k]...)
		if line, ok := p.takeLine(); ok {
			return line, nil
		}
	}
}

func (p *Port) takeLine() ([]byte, bool) {
	delim := []byte(p.config.Delimiter)
	idx := bytes.Index(p.pending, delim)
	if idx < 0 {
		return nil, false
	}
	line := make([]byte, idx)
	copy(line, p.pending[:idx])
	p.pending = p.pending[idx+len(delim):]
	return line, true
}

// Flush discards buffered input, both in the kernel and in the port.
func (p *Port) Flush() error {
	p.readMu.Lock()
	defer p.readMu.Unlock()

	p.pending = p.pending[:0]
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	if err := unix.IoctlSetInt(p.fd, unix.TCFLSH, unix.TCIFLUSH); err != nil {
		return fmt.Errorf("flush input: %w", err)
	}
	return nil
}

// Close closes the serial port and unblocks any pending ReadLine.
// Safe to call multiple times; subsequent calls are no-ops.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		// Wake up poll using self-pipe
		unix.Write(p.pipeW, []byte{1})
		if p.config.Exclusive {
			unix.IoctlSetInt(p.fd, unix.TIOCNXCL, 0)
		}
		err = p.file.Close()
		unix.Close(p.pipeR)
		unix.Close(p.pipeW)
	})
	return err
}

var baudRates = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
	460800: unix.B460800,
	921600: unix.B921600,
}

// ValidBaudRate reports whether baud is a rate Open can configure exactly.
// Other rates fall back to 115200.
func ValidBaudRate(baud int) bool {
	_, ok := baudRates[baud]
	return ok
}

func baudToUnix(baud int) uint32 {
	if b, ok := baudRates[baud]; ok {
		return b
	}
	return unix.B115200
}
