package acquire

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	serial "github.com/luhtfiimanal/serial-source"
)

func TestLockFilePath(t *testing.T) {
	a := LockFilePath("/run/lock", "/dev/ttyACM0")
	require.Equal(t, a, LockFilePath("/run/lock", "/dev/ttyACM0"))
	require.Equal(t, "/run/lock", filepath.Dir(a))
	require.True(t, strings.HasPrefix(filepath.Base(a), "serial-ttyACM0-"))
	require.True(t, strings.HasSuffix(a, ".lock"))

	// Same basename, different device.
	require.NotEqual(t, a, LockFilePath("/run/lock", "/dev/other/ttyACM0"))

	b := LockFilePath("/tmp", "/dev/serial/by-id/usb-Arduino LLC:01")
	require.NotContains(t, filepath.Base(b), " ")
	require.NotContains(t, filepath.Base(b), ":")
}

func TestClaimLockFile_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.lock")
	pid := os.Getpid()

	lf, err := claimLockFile(path, pid, true)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(pid)+"\n", string(content))

	_, err = claimLockFile(path, pid, true)
	require.ErrorIs(t, err, ErrDeviceBusy)

	require.NoError(t, lf.release())
	_, err = os.Stat(path)
	require.True(t, errors.Is(err, os.ErrNotExist))

	lf, err = claimLockFile(path, pid, true)
	require.NoError(t, err)
	require.NoError(t, lf.release())
}

func TestClaimLockFile_StaleOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.lock")
	// Above the kernel's pid_max, so never a running process.
	require.NoError(t, os.WriteFile(path, []byte("99999999\n"), 0o644))

	_, err := claimLockFile(path, os.Getpid(), false)
	require.ErrorIs(t, err, ErrDeviceBusy)

	lf, err := claimLockFile(path, os.Getpid(), true)
	require.NoError(t, err)
	require.NoError(t, lf.release())
}

func TestClaimLockFile_LiveOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.lock")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())), 0o644))

	_, err := claimLockFile(path, os.Getpid(), true)
	require.ErrorIs(t, err, ErrDeviceBusy)
}

func TestClaimLockFile_UnknownOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.lock")
	require.NoError(t, os.WriteFile(path, []byte("mads-serial-lock"), 0o644))

	_, err := claimLockFile(path, os.Getpid(), true)
	require.ErrorIs(t, err, ErrDeviceBusy)
}

func TestLockFileStrategy(t *testing.T) {
	dir := t.TempDir()
	port := newFakePort()
	var gotExclusive bool
	s := &lockFileStrategy{
		dir: dir,
		open: func(path string, exclusive bool) (Port, error) {
			gotExclusive = exclusive
			return port, nil
		},
		exclusive:     true,
		staleRecovery: true,
		pid:           os.Getpid(),
	}

	lock, err := s.Acquire("/dev/ttyACM0")
	require.NoError(t, err)
	require.True(t, gotExclusive)
	require.Equal(t, "lockfile+native", lock.Kind())
	require.FileExists(t, LockFilePath(dir, "/dev/ttyACM0"))

	_, err = s.Acquire("/dev/ttyACM0")
	require.ErrorIs(t, err, ErrDeviceBusy)

	require.NoError(t, lock.Release())
	require.True(t, port.isClosed())
	require.NoFileExists(t, LockFilePath(dir, "/dev/ttyACM0"))
	require.NoError(t, lock.Release())
}

func TestLockFileStrategy_OpenFailureReleasesFile(t *testing.T) {
	dir := t.TempDir()
	s := &lockFileStrategy{
		dir: dir,
		open: func(string, bool) (Port, error) {
			return nil, serial.ErrBusy
		},
		pid: os.Getpid(),
	}

	_, err := s.Acquire("/dev/ttyUSB0")
	require.ErrorIs(t, err, ErrDeviceBusy)
	require.NoFileExists(t, LockFilePath(dir, "/dev/ttyUSB0"))
}

func TestLockFileHeld(t *testing.T) {
	dir := t.TempDir()
	device := "/dev/ttyACM0"

	held, err := LockFileHeld(dir, device)
	require.NoError(t, err)
	require.False(t, held)

	lf, err := claimLockFile(LockFilePath(dir, device), os.Getpid(), true)
	require.NoError(t, err)

	held, err = LockFileHeld(dir, device)
	require.NoError(t, err)
	require.True(t, held)

	require.NoError(t, lf.release())
	held, err = LockFileHeld(dir, device)
	require.NoError(t, err)
	require.False(t, held)
}
