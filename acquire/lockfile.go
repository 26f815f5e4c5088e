package acquire

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/sys/unix"
)

// LockFilePath returns the advisory lock file for device inside dir. The
// name carries the sanitized basename for operators and a hash of the full
// path so distinct devices never share a file.
func LockFilePath(dir, device string) string {
	sum := blake3.Sum256([]byte(device))
	name := fmt.Sprintf("serial-%s-%s.lock", sanitize(filepath.Base(device)), hex.EncodeToString(sum[:6]))
	return filepath.Join(dir, name)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// LockFileHeld reports whether another handle currently holds the lock
// file for device in dir. It never creates the file.
func LockFileHeld(dir, device string) (bool, error) {
	f, err := os.Open(LockFilePath(dir, device))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return true, nil
		}
		return false, fmt.Errorf("flock: %w", err)
	}
	return false, unix.Flock(fd, unix.LOCK_UN)
}

type lockFileStrategy struct {
	dir           string
	open          OpenFunc
	exclusive     bool
	staleRecovery bool
	pid           int
}

func (s *lockFileStrategy) Name() string {
	if s.exclusive {
		return "lockfile+native"
	}
	return "lockfile"
}

func (s *lockFileStrategy) Acquire(path string) (*Lock, error) {
	lf, err := claimLockFile(LockFilePath(s.dir, path), s.pid, s.staleRecovery)
	if err != nil {
		if errors.Is(err, ErrDeviceBusy) {
			return nil, fmt.Errorf("%w: %s", err, path)
		}
		return nil, &DeviceOpenError{Path: path, Err: err}
	}
	port, err := s.open(path, s.exclusive)
	if err != nil {
		lf.release()
		return nil, classifyOpenError(path, err)
	}
	return newLock(path, s.Name(), port, lf.release, port.Close), nil
}

type lockFile struct {
	path string
	f    *os.File
}

// claimLockFile takes the lock file at path without blocking. flock on the
// file is the cross-process mutex; the PID inside identifies the owner.
func claimLockFile(path string, pid int, staleRecovery bool) (*lockFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrDeviceBusy
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	unlock := func() {
		unix.Flock(fd, unix.LOCK_UN)
		f.Close()
	}

	// The previous owner may have unlinked the file between our open and flock.
	if !samePath(f, path) {
		unlock()
		return nil, ErrDeviceBusy
	}

	owner, err := readOwner(f)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("read lock file: %w", err)
	}
	if owner != "" && owner != strconv.Itoa(pid) {
		// Nobody holds the flock, but the file is not empty: either a holder
		// that does not use flock, or a crashed process.
		if !staleRecovery || ownerAlive(owner) {
			unlock()
			return nil, ErrDeviceBusy
		}
	}

	if err := f.Truncate(0); err != nil {
		unlock()
		return nil, fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(pid)+"\n"), 0); err != nil {
		unlock()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &lockFile{path: path, f: f}, nil
}

// release removes the file while still holding the flock, then unlocks.
func (l *lockFile) release() error {
	var errs []error
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		errs = append(errs, fmt.Errorf("funlock: %w", err))
	}
	if err := l.f.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func samePath(f *os.File, path string) bool {
	held, err := f.Stat()
	if err != nil {
		return false
	}
	current, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(held, current)
}

func readOwner(f *os.File) (string, error) {
	b, err := io.ReadAll(io.NewSectionReader(f, 0, 64))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// ownerAlive reports whether the recorded owner still runs. Content that is
// not a PID cannot be verified and is treated as alive.
func ownerAlive(owner string) bool {
	pid, err := strconv.Atoi(owner)
	if err != nil || pid <= 0 {
		return true
	}
	err = unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
