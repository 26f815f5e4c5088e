package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/luhtfiimanal/serial-source/acquire"
	"github.com/luhtfiimanal/serial-source/internal/config"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List candidate devices in the order they would be tried",
	RunE:  runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	e := acquire.NewEnumerator(cfg.Device.Classes, cfg.Device.Fallbacks)
	return printCandidates(cmd.OutOrStdout(), e.Enumerate(), cfg.Device.LockDir)
}

func printCandidates(w io.Writer, candidates []string, lockDir string) error {
	if len(candidates) == 0 {
		_, err := fmt.Fprintln(w, "no candidate devices found")
		return err
	}
	for i, path := range candidates {
		line := fmt.Sprintf("%d. %s", i+1, path)
		if target := acquire.RealPath(path); target != path {
			line += " -> " + target
		}
		if held, err := acquire.LockFileHeld(lockDir, path); err == nil && held {
			line += " (locked)"
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
