package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sofmeright/freightqueue/src/config"
	"github.com/sofmeright/freightqueue/src/logging"
)

var log = logging.DefaultLogger.WithField(logging.Subsys, "cli")

var (
	cfgFile  string
	verbose  bool
	logLevel string
	cfg      *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "freightqueue",
	Short: "Concurrency-bounded container image build scheduler",
	Long:  "freightqueue queues image builds, runs at most N at a time and pushes every tag.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for commands that don't need it.
		if cmd.Name() == "version" {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Log.Level
		switch {
		case logLevel != "":
			level = logLevel
		case verbose:
			level = "debug"
		}
		if err := logging.Setup(level, cfg.Log.Format); err != nil {
			return err
		}

		warnings, err := config.Validate(cfg)
		for _, w := range warnings {
			log.Warn(w)
		}
		return err
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .freightqueue.yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config and --verbose)")
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
