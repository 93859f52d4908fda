package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/xcofdk/xcofdk-py-sub004/config"
)

var (
	cfgFile string
	v       = config.New()
)

var rootCmd = &cobra.Command{
	Use:          "xcore",
	Short:        "xcore: task lifecycle, error binning and backpressure demos",
	SilenceUsage: true,
}

// Execute is the entry point called from cmd/xcore/main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: ./xcore.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug | info | warn | error")
	rootCmd.PersistentFlags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9100); empty disables")
	rootCmd.PersistentFlags().Bool("die-mode", false, "fatal errors are die-caused")
	rootCmd.PersistentFlags().Bool("exception-mode", false, "fatal errors raise in strict mode")
	rootCmd.PersistentFlags().Bool("release-mode", true, "never surface raised errors to the caller")
	bindFlag("log_level", rootCmd.PersistentFlags(), "log-level")
	bindFlag("metrics_addr", rootCmd.PersistentFlags(), "metrics-addr")
	bindFlag("die_mode", rootCmd.PersistentFlags(), "die-mode")
	bindFlag("exception_mode", rootCmd.PersistentFlags(), "exception-mode")
	bindFlag("release_mode", rootCmd.PersistentFlags(), "release-mode")

	rootCmd.AddCommand(soakCmd)
	rootCmd.AddCommand(superviseCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("xcore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "error reading config file:", err)
			os.Exit(1)
		}
	} else {
		fmt.Fprintln(os.Stderr, "config:", v.ConfigFileUsed())
	}
}

// loadConfig reads and validates the typed configuration.
func loadConfig() (config.Config, error) {
	cfg := config.Load(v)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func bindFlag(key string, fs *pflag.FlagSet, flagName string) {
	if err := v.BindPFlag(key, fs.Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("bindFlag %q → %q: %v", flagName, key, err))
	}
}
