package acquire

import (
	"errors"
	"os"
	"testing"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"

	serial "github.com/luhtfiimanal/serial-source"
)

func TestParseLockMode(t *testing.T) {
	for in, want := range map[string]LockMode{
		"":         LockAuto,
		"auto":     LockAuto,
		"Native":   LockNative,
		"lockfile": LockFile,
		" both ":   LockBoth,
	} {
		got, err := ParseLockMode(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseLockMode("flock")
	require.Error(t, err)
}

func TestGuard_FallsBackWhenNativeUnsupported(t *testing.T) {
	dir := t.TempDir()
	port := newFakePort()
	g := NewGuard(GuardOptions{
		Mode:    LockAuto,
		LockDir: dir,
		Open: func(path string, exclusive bool) (Port, error) {
			if exclusive {
				return nil, serial.ErrExclusiveUnsupported
			}
			return port, nil
		},
	})

	lock, err := g.Acquire("/dev/ttyACM0")
	require.NoError(t, err)
	require.Equal(t, "lockfile", lock.Kind())
	require.FileExists(t, LockFilePath(dir, "/dev/ttyACM0"))
	require.NoError(t, lock.Release())
}

func TestGuard_NativeBusyIsFinal(t *testing.T) {
	dir := t.TempDir()
	g := NewGuard(GuardOptions{
		Mode:    LockAuto,
		LockDir: dir,
		Open: func(string, bool) (Port, error) {
			return nil, serial.ErrBusy
		},
	})

	_, err := g.Acquire("/dev/ttyACM0")
	require.ErrorIs(t, err, ErrDeviceBusy)
	require.NoFileExists(t, LockFilePath(dir, "/dev/ttyACM0"))
}

func TestGuard_OpenError(t *testing.T) {
	g := NewGuard(GuardOptions{
		Mode:    LockNative,
		LockDir: t.TempDir(),
		Open: func(string, bool) (Port, error) {
			return nil, os.ErrPermission
		},
	})

	_, err := g.Acquire("/dev/ttyUSB0")
	var openErr *DeviceOpenError
	require.ErrorAs(t, err, &openErr)
	require.Equal(t, "/dev/ttyUSB0", openErr.Path)
	require.False(t, errors.Is(err, ErrDeviceBusy))
}

func TestGuard_AllStrategiesUnsupported(t *testing.T) {
	g := NewGuard(GuardOptions{
		Mode:    LockNative,
		LockDir: t.TempDir(),
		Open: func(string, bool) (Port, error) {
			return nil, serial.ErrExclusiveUnsupported
		},
	})

	_, err := g.Acquire("/dev/ttyUSB0")
	var openErr *DeviceOpenError
	require.ErrorAs(t, err, &openErr)
}

func TestGuard_PTY(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	for _, mode := range []LockMode{LockAuto, LockNative, LockFile, LockBoth} {
		t.Run(string(mode), func(t *testing.T) {
			g := NewGuard(GuardOptions{
				Mode:              mode,
				LockDir:           t.TempDir(),
				StaleLockRecovery: true,
				Open:              SerialOpener(115200),
			})

			lock, err := g.Acquire(slave.Name())
			require.NoError(t, err)

			_, err = g.Acquire(slave.Name())
			require.ErrorIs(t, err, ErrDeviceBusy)

			require.NoError(t, lock.Release())

			lock, err = g.Acquire(slave.Name())
			require.NoError(t, err)
			require.NoError(t, lock.Release())
		})
	}
}
