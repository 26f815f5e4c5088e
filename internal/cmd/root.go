package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/luhtfiimanal/serial-source/internal/config"
)

// Version is set at build time with -ldflags "-X .../internal/cmd.Version=..."
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "serial-source",
	Short: "Stream JSON records from an auto-detected serial device",
	Long: `serial-source finds a serial device that emits newline-delimited JSON,
claims it exclusively against other processes, validates its output and
streams one record per poll, reconnecting across unplugs.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is $HOME/.config/serial-source/config.yaml)")
	flags.StringP("device", "d", "", "explicit device path, disables auto-detection")
	flags.String("policy", "", "retry policy: retry-forever or fail-fast")
	flags.String("log-level", "", "log level: debug, info, warn, error")

	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("device.explicit_device_path", flags.Lookup("device"))
	_ = viper.BindPFlag("device.retry_policy", flags.Lookup("policy"))
	_ = viper.BindPFlag("logging.level", flags.Lookup("log-level"))
}

func initConfig() {
	// Defaults first so they're available even without a config file
	config.SetDefaults(viper.GetViper())

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SERIAL_SOURCE")
	// e.g. SERIAL_SOURCE_DEVICE_RETRY_POLICY for device.retry_policy
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
