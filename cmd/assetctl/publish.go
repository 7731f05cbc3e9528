package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/assetforge/assetforge/internal/objectstore"
)

func newPublishCommand(cc *commandContext) *cobra.Command {
	var outputDir string
	var build bool

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload the output directory to the configured object storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cc.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Output.Storage == nil {
				return &configError{err: errors.New("output.storage is not configured")}
			}

			p, done, err := cc.pipeline(cmd, cfg, outputDir)
			if err != nil {
				return err
			}
			defer done()

			if build {
				if _, err := p.Build(cmd.Context()); err != nil {
					return err
				}
			}

			sc := *cfg.Output.Storage
			if sc.FileSystemStorage != nil {
				fsc := *sc.FileSystemStorage
				fsc.Path = cfg.Path(fsc.Path)
				sc.FileSystemStorage = &fsc
			}

			storage, err := objectstore.New(cmd.Context(), sc)
			if err != nil {
				return err
			}

			keys, err := objectstore.NewPublisher(storage).
				WithLogger(cc.log).
				WithParallelism(cfg.Parallelism).
				Publish(cmd.Context(), p.OutputDir(), cfg.Output.Report)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Published %d objects\n", len(keys))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (overrides output.directory)")
	cmd.Flags().BoolVar(&build, "build", false, "Build before publishing")
	return cmd
}
