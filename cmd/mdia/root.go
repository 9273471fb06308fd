package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/kkk0312/mdia/internal/config"
	"github.com/kkk0312/mdia/internal/logging"
	"github.com/spf13/cobra"
)

const defaultDataDir = ".mdia"

var (
	cfgFile  string
	dataDir  string
	debug    bool
	logJSON  bool
	lockWait time.Duration
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mdia",
		Short:         "mdia turns financial documents into planned, tool-assisted analysis reports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logging.Setup(logging.Options{Debug: debug, JSON: logJSON, Out: cmd.ErrOrStderr()})
			return config.LoadDotEnv(".env")
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default <data-dir>/config.yaml)")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDataDir, "directory holding the database, search index and locks")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON lines")
	root.PersistentFlags().DurationVar(&lockWait, "lock-wait", 0, "wait up to this long for a busy analysis instead of failing")

	root.AddCommand(
		initCmd(),
		configCmd(),
		analyzeCmd(),
		planCmd(),
		stepCmd(),
		runCmd(),
		reportCmd(),
		historyCmd(),
		toolsCmd(),
		serveCmd(),
		mcpCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func configPath() (string, bool) {
	if cfgFile != "" {
		return cfgFile, true
	}
	return filepath.Join(dataDir, "config.yaml"), false
}

func idArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func maxOneID(_ *cobra.Command, args []string) error {
	if len(args) > 1 {
		return fmt.Errorf("expected at most one analysis id, got %d", len(args))
	}
	return nil
}
