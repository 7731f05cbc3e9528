package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/assetforge/assetforge/internal/buildctx"
	"github.com/assetforge/assetforge/internal/cache"
	"github.com/assetforge/assetforge/internal/config"
	"github.com/assetforge/assetforge/internal/logging"
	"github.com/assetforge/assetforge/internal/pipeline"
)

func newBuildCommand(cc *commandContext) *cobra.Command {
	var outputDir string
	var table bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the assets into the output directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cc.loadConfig()
			if err != nil {
				return err
			}

			p, done, err := cc.pipeline(cmd, cfg, outputDir)
			if err != nil {
				return err
			}
			defer done()

			res, err := p.Build(cmd.Context())
			if err != nil {
				return err
			}

			if table {
				return res.Report.WriteTable(cmd.OutOrStdout())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Built %d artifacts for context %q into %s\n", len(res.Artifacts), res.Context.Name, res.OutputDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (overrides output.directory)")
	cmd.Flags().BoolVar(&table, "report-table", false, "Print the composition report as a table")
	return cmd
}

// pipeline wires a pipeline for cfg according to the global flags. The
// returned function releases the transform cache.
func (cc *commandContext) pipeline(cmd *cobra.Command, cfg *config.Root, outputDir string) (*pipeline.Pipeline, func(), error) {
	resolver := buildctx.New().WithConfig(&cfg.Context, cfg.Dir).WithLogger(cc.log)
	if cc.contextName != "" {
		resolver = resolver.WithOverride(cc.contextName)
	}

	p := pipeline.New(cfg).
		WithResolver(resolver).
		WithOutputDir(outputDir).
		WithLogger(cc.log)

	if !cc.noProgress && logging.IsTerminal(cmd.ErrOrStderr()) {
		p = p.WithProgress(cmd.ErrOrStderr())
	}

	if cfg.Cache == nil {
		return p, func() {}, nil
	}

	dsn := ":memory:"
	if cfg.Cache.Path != "" {
		dsn = cfg.Path(cfg.Cache.Path)
	}

	c, err := cache.Open(cmd.Context(), dsn, cfg.Cache.Size)
	if err != nil {
		return nil, nil, fmt.Errorf("transform cache: %w", err)
	}
	return p.WithCache(c.WithLogger(cc.log)), func() {
		if err := c.Close(); err != nil {
			cc.log.Warnf("Failed to close transform cache: %v", err)
		}
	}, nil
}
