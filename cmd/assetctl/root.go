package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/thediveo/enumflag/v2"

	"github.com/assetforge/assetforge/internal/config"
	"github.com/assetforge/assetforge/internal/logging"
	"github.com/assetforge/assetforge/internal/metrics"
)

// defaultConfigFiles are looked up in the working directory when no --config
// is given.
var defaultConfigFiles = []string{"assetctl.yaml", "assetctl.yml", "assetctl.json", "assetctl.toml"}

type commandContext struct {
	configFiles []string
	logLevel    logging.Level
	logFormat   logging.Format
	metricsFile string
	noProgress  bool
	contextName string

	log *logging.Logger
}

func newRootCommand(cc *commandContext) *cobra.Command {

	rootCmd := &cobra.Command{
		Use:           "assetctl",
		Short:         "Build fingerprinted web assets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			cc.log = logging.NewLogger(logging.Config{
				Level:  cc.logLevel,
				Format: cc.logFormat,
				Output: cmd.ErrOrStderr(),
			})
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringSliceVarP(&cc.configFiles, "config", "c", nil, "Configuration files or directories (default assetctl.yaml)")
	flags.Var(enumflag.New(&cc.logLevel, "level", logging.LevelNames, enumflag.EnumCaseInsensitive), "log-level", "Log level: debug, info, warn or error")
	flags.Var(enumflag.New(&cc.logFormat, "format", logging.FormatNames, enumflag.EnumCaseInsensitive), "log-format", "Log format: console or json")
	flags.StringVar(&cc.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")
	flags.BoolVar(&cc.noProgress, "no-progress", false, "Disable the progress bar")
	flags.StringVar(&cc.contextName, "context", "", "Build context, overrides the environment and the git branch")

	rootCmd.AddCommand(
		newBuildCommand(cc),
		newWatchCommand(cc),
		newPublishCommand(cc),
		newConfigCommand(cc),
		newVersionCommand(),
	)

	return rootCmd
}

// loadConfig reads the configured files, or the first default file present
// in the working directory, or falls back to the built-in defaults.
func (cc *commandContext) loadConfig() (*config.Root, error) {
	files := cc.configFiles
	if len(files) == 0 {
		for _, name := range defaultConfigFiles {
			if _, err := os.Stat(name); err == nil {
				files = []string{name}
				break
			}
		}
	}

	if len(files) == 0 {
		cfg, err := config.Parse([]byte("{}"))
		if err != nil {
			return nil, &configError{err: err}
		}
		if cfg.Dir, err = filepath.Abs("."); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	cfg, err := config.Load(files)
	if err != nil {
		return nil, &configError{err: err}
	}
	cc.log.Debugf("Loaded configuration from %v", files)
	return cfg, nil
}

// writeMetrics runs after every command, failed or not.
func (cc *commandContext) writeMetrics() error {
	if cc.metricsFile == "" {
		return nil
	}
	return metrics.WriteFile(cc.metricsFile)
}
