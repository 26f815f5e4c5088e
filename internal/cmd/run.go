package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/luhtfiimanal/serial-source/acquire"
	"github.com/luhtfiimanal/serial-source/internal/config"
	"github.com/luhtfiimanal/serial-source/internal/logging"
	"github.com/luhtfiimanal/serial-source/internal/publish"
	"github.com/luhtfiimanal/serial-source/source"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Acquire a device and stream its records",
	Long: `Acquire a device and write one JSON record per line to stdout.

Without --device the first candidate that emits valid JSON is used:
/dev/serial/by-id links, then detected ttyACM*/ttyUSB* nodes, then
the configured fallbacks. Devices held by another process are skipped.`,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runAgent(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	acfg, err := cfg.Device.Acquire()
	if err != nil {
		return err
	}

	instance := uuid.NewString()
	log := logging.New(cfg.Logging, Version, instance).With("agent", cfg.Agent.Name)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sink recordSink
	if cfg.MQTT.Enabled {
		clientID := cfg.MQTT.Broker.ClientID
		if clientID == "" {
			clientID = fmt.Sprintf("%s-%s", cfg.Agent.Name, instance[:8])
		}
		pub, err := publish.Connect(cfg.MQTT, clientID, log.Logger)
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer pub.Close()
		sink = pub
	}

	src := source.New(acfg, log.With("component", "acquire").Logger)
	defer func() {
		if err := src.Close(); err != nil {
			log.Warn("closing device", "error", err)
		}
		log.Info("stopped", "records", src.Count())
	}()

	log.Info("starting", "policy", acfg.Policy.String(), "lock_mode", string(acfg.LockMode))
	if err := src.Setup(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("setup: %w", err)
	}

	var out io.Writer
	if cfg.Agent.Output == "stdout" {
		out = cmd.OutOrStdout()
	}
	return pump(ctx, src, cfg.Agent, out, sink, log.Logger)
}

type outputSource interface {
	GetOutput(ctx context.Context) ([]byte, error)
}

type recordSink interface {
	Publish(payload []byte) error
}

// pump polls src until ctx is done or src reports a terminal error. Records
// go to out (one per line) and to sink; the no-data marker only goes to out,
// and only when skip_empty is off.
func pump(ctx context.Context, src outputSource, agent config.AgentConfig, out io.Writer, sink recordSink, log *slog.Logger) error {
	interval := agent.Interval()
	marker := acquire.NoDataMarker()

	for {
		if ctx.Err() != nil {
			return nil
		}
		payload, err := src.GetOutput(ctx)
		if err != nil {
			return err
		}

		empty := bytes.Equal(payload, marker)
		if out != nil && !(empty && agent.SkipEmpty) {
			if _, err := out.Write(append(payload, '\n')); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
		}
		if sink != nil && !empty {
			if err := sink.Publish(payload); err != nil {
				log.Warn("forwarding record failed", "error", err)
			}
		}

		if interval > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval):
			}
		}
	}
}
