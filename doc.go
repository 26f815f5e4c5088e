// Package serial provides a minimal, Linux-only serial port for
// line-oriented embedded devices such as microcontrollers streaming one
// JSON object per line.
//
// It is the I/O layer underneath the acquire package, which discovers,
// locks, validates and supervises a device built on top of it.
//
// Features:
//   - Raw syscall-based serial I/O on Linux, no buffering delays
//   - Line-based reading with a per-call timeout
//   - Optional exclusive open (flock + TIOCEXCL) so competing processes get ErrBusy
//   - Input flush to discard boot noise accumulated before reading
//   - Self-pipe mechanism so Close unblocks a pending read
//   - PTY-based tests for reliability
//
// This package does **not** support Windows.
//
// Example usage:
//
//	port, err := serial.Open(serial.Config{
//	    Device:    "/dev/ttyACM0",
//	    BaudRate:  115200,
//	    Exclusive: true,
//	})
//	if errors.Is(err, serial.ErrBusy) {
//	    log.Fatal("device owned by another process")
//	}
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	for {
//	    line, err := port.ReadLine(time.Second)
//	    if errors.Is(err, serial.ErrTimeout) {
//	        continue
//	    }
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println("Received:", string(line))
//	}
package serial
