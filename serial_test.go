package serial

import (
	"errors"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
)

func openPair(t *testing.T, exclusive bool) (*Port, func([]byte)) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	port, err := Open(Config{
		Device:    slave.Name(),
		BaudRate:  115200,
		Exclusive: exclusive,
	})
	require.NoError(t, err)
	t.Cleanup(func() { port.Close() })

	write := func(b []byte) {
		_, err := master.Write(b)
		require.NoError(t, err)
	}
	return port, write
}

func TestPort_ReadLine(t *testing.T) {
	port, write := openPair(t, false)

	write([]byte("hello\n"))

	line, err := port.ReadLine(time.Second)
	require.NoError(t, err)
	require.Equal(t, "hello", string(line))
}

func TestPort_ReadLineKeepsRemainder(t *testing.T) {
	port, write := openPair(t, false)

	write([]byte("{\"a\":1}\n{\"a\":2}\npart"))

	line, err := port.ReadLine(time.Second)
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(line))

	line, err = port.ReadLine(time.Second)
	require.NoError(t, err)
	require.Equal(t, `{"a":2}`, string(line))

	_, err = port.ReadLine(50 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	write([]byte("ial\n"))
	line, err = port.ReadLine(time.Second)
	require.NoError(t, err)
	require.Equal(t, "partial", string(line))
}

func TestPort_ReadLineTimeout(t *testing.T) {
	port, _ := openPair(t, false)

	start := time.Now()
	_, err := port.ReadLine(100 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	require.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	require.Less(t, time.Since(start), time.Second)
}

func TestPort_WriteLine(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	port, err := Open(Config{Device: slave.Name(), BaudRate: 115200})
	require.NoError(t, err)
	t.Cleanup(func() { port.Close() })

	line := "C,INFO"
	newline := "\r\n"
	require.NoError(t, port.WriteLine(line, newline))

	buf := make([]byte, len(line)+len(newline))
	n, err := master.Read(buf)
	require.NoError(t, err)
	require.Equal(t, len(line)+len(newline), n)
	require.Equal(t, line+newline, string(buf))
}

func TestPort_Flush(t *testing.T) {
	port, write := openPair(t, false)

	write([]byte("boot noise\n"))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, port.Flush())

	write([]byte("fresh\n"))
	line, err := port.ReadLine(time.Second)
	require.NoError(t, err)
	require.Equal(t, "fresh", string(line))
}

func TestPort_Killability(t *testing.T) {
	port, _ := openPair(t, false)

	exitErr := make(chan error, 1)
	go func() {
		_, err := port.ReadLine(0)
		exitErr <- err
	}()

	// Give the goroutine a chance to block in poll
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, port.Close())

	select {
	case err := <-exitErr:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for ReadLine to exit after Close")
	}

	// Should be a no-op due to closeOnce
	require.NoError(t, port.Close())

	_, err := port.ReadLine(10 * time.Millisecond)
	require.ErrorIs(t, err, ErrClosed)
}

func TestPort_ErrorPropagation(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { slave.Close() })

	port, err := Open(Config{Device: slave.Name(), BaudRate: 115200})
	require.NoError(t, err)
	t.Cleanup(func() { port.Close() })

	// Simulate device disconnect by closing master
	require.NoError(t, master.Close())

	_, err = port.ReadLine(500 * time.Millisecond)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrTimeout), "hangup must not look like a timeout: %v", err)
}

func TestPort_ExclusiveOpen(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	first, err := Open(Config{Device: slave.Name(), Exclusive: true})
	require.NoError(t, err)

	_, err = Open(Config{Device: slave.Name(), Exclusive: true})
	require.ErrorIs(t, err, ErrBusy)

	require.NoError(t, first.Close())

	again, err := Open(Config{Device: slave.Name(), Exclusive: true})
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestOpen_MissingDevice(t *testing.T) {
	_, err := Open(Config{Device: "/dev/does-not-exist-serial"})
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrBusy))
}
