// Package acquire finds, claims and holds one serial device that emits
// newline-delimited JSON records.
//
// A Controller drives the whole cycle:
//
//   - the Enumerator lists candidates (by-id links, detected ttyACM/ttyUSB
//     nodes, then conventional fallbacks);
//   - the Guard claims each candidate without waiting, using OS-native
//     exclusive open, an advisory lock file, or both;
//   - the Validator waits for the device to settle, drops buffered boot
//     output and requires a JSON object within a bounded number of lines;
//   - the Reader then turns each line into a Record.
//
// While connected, ReadOne reads one line per call. A read fault releases
// the device and the Controller re-acquires on a later call, no more than
// once per MinRetryInterval. Under PolicyFailFast the Controller instead
// terminates after MaxDisconnects consecutive failures and reports
// ErrTerminated exactly once.
//
// Example:
//
//	ctrl := acquire.NewController(acquire.DefaultConfig(), acquire.WithLogger(log))
//	defer ctrl.Shutdown()
//
//	if err := ctrl.Connect(ctx); err != nil && !errors.Is(err, acquire.ErrAcquisitionExhausted) {
//		return err
//	}
//	for {
//		rec, err := ctrl.ReadOne(ctx)
//		if errors.Is(err, acquire.ErrTerminated) {
//			return err
//		}
//		if rec != nil {
//			b, _ := rec.Encode()
//			fmt.Println(string(b))
//		}
//	}
package acquire
