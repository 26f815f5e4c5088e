package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/luhtfiimanal/serial-source/acquire"
	"github.com/luhtfiimanal/serial-source/internal/config"
	"github.com/luhtfiimanal/serial-source/internal/logging"
)

var probeCmd = &cobra.Command{
	Use:   "probe [device]",
	Short: "Check whether a device emits valid JSON",
	Long: `Lock and open one device, wait for it to settle and read up to
probe_max_lines lines, reporting whether it would be accepted.

The device defaults to --device / explicit_device_path.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	acfg, err := cfg.Device.Acquire()
	if err != nil {
		return err
	}

	device := acfg.ExplicitDevicePath
	if len(args) == 1 {
		device = args[0]
	}
	if device == "" {
		return errors.New("no device given")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logging.New(cfg.Logging, Version, "").Logger
	guard := acquire.NewGuard(acquire.GuardOptions{
		Mode:              acfg.LockMode,
		LockDir:           acfg.LockDir,
		StaleLockRecovery: acfg.StaleLockRecovery,
		Open:              acquire.SerialOpener(acfg.BaudRate),
		Logger:            log,
	})
	validator := &acquire.Validator{
		MaxLines:    acfg.ProbeMaxLines,
		Settle:      acfg.ProbeSettle,
		LineTimeout: acfg.ReadTimeout,
		Logger:      log,
	}
	return probeDevice(ctx, cmd.OutOrStdout(), guard, validator, device)
}

func probeDevice(ctx context.Context, w io.Writer, guard acquire.Acquirer, prober acquire.Prober, device string) error {
	lock, err := guard.Acquire(device)
	if err != nil {
		return err
	}
	defer lock.Release()

	out := prober.Probe(ctx, lock.Port())
	if !out.Accepted {
		fmt.Fprintf(w, "%s: rejected (%s) after %d lines\n", device, out.Reason, out.Lines)
		return &acquire.ValidationError{Path: device, Reason: out.Reason, Err: out.Err}
	}
	fmt.Fprintf(w, "%s: accepted after %d lines (lock: %s)\n", device, out.Lines, lock.Kind())
	if target := acquire.RealPath(device); target != device {
		fmt.Fprintf(w, "real path: %s\n", target)
	}
	return nil
}
