package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-dali/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-dali/internal/infrastructure/logging"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	quiet      bool
}

// newRootCmd builds the command tree. Running the root command without a
// subcommand starts the service.
func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "graylogic-dali",
		Short: "DALI lighting bus commissioning service",
		Long: `graylogic-dali assigns short addresses to new DALI control gear and
bridges the addressed lights to MQTT.

Run without a subcommand to start the service. Use "commission" for a
one-shot run from an installer's laptop.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "",
		"config file path (default $GRAYLOGIC_CONFIG or "+defaultConfigPath+")")
	root.PersistentFlags().BoolVarP(&flags.quiet, "quiet", "q", false,
		"suppress log output from one-shot commands")

	root.AddCommand(
		newServeCmd(flags),
		newCommissionCmd(flags),
		newScanCmd(flags),
		newTokenCmd(flags),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "graylogic-dali %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// getConfigPath returns the configuration file path.
// The --config flag wins, then GRAYLOGIC_CONFIG, then the default.
func getConfigPath(flags *globalFlags) string {
	if flags.configPath != "" {
		return flags.configPath
	}
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig loads the configuration file named by the flags.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	path := getConfigPath(flags)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}

// commandLogger returns the logger for one-shot commands. Logs go to w
// (stderr) so stdout stays machine-readable.
func commandLogger(flags *globalFlags, cfg *config.Config, w io.Writer) *logging.Logger {
	if flags.quiet {
		return logging.Discard()
	}
	return logging.NewWithWriter(w, cfg.Logging, version)
}
