package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/assetforge/assetforge/internal/watch"
)

func newWatchCommand(cc *commandContext) *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild whenever a source file changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cc.loadConfig()
			if err != nil {
				return err
			}

			// The progress bar fights with the log output of repeated builds.
			cc.noProgress = true

			p, done, err := cc.pipeline(cmd, cfg, outputDir)
			if err != nil {
				return err
			}
			defer done()

			if _, err := p.Validate(); err != nil {
				return &configError{err: err}
			}

			dirs := make([]string, 0, len(cfg.Sources))
			for _, src := range cfg.Sources {
				dirs = append(dirs, cfg.Path(src.Directory))
			}

			w := watch.New(dirs, func(ctx context.Context) error {
				res, err := p.Build(ctx)
				if err != nil {
					return err
				}
				cc.log.Infof("Built %d artifacts for context %q", len(res.Artifacts), res.Context.Name)
				return nil
			}).
				WithDebounce(time.Duration(cfg.Watch.Debounce)).
				WithInterval(time.Duration(cfg.Watch.Interval)).
				WithIgnore(p.OutputDir()).
				WithLogger(cc.log)

			cc.log.Infof("Watching %v", dirs)
			return w.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (overrides output.directory)")
	return cmd
}
