package main

import (
	"fmt"

	"github.com/spf13/cobra"

	ext_config "github.com/assetforge/assetforge/config"
	"github.com/assetforge/assetforge/internal/pipeline"
)

func newConfigCommand(cc *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(
		&cobra.Command{
			Use:   "validate",
			Short: "Validate the configuration and the rule table",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := cc.loadConfig()
				if err != nil {
					return err
				}

				table, err := pipeline.New(cfg).WithLogger(cc.log).Validate()
				if err != nil {
					return &configError{err: err}
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid: %d rules\n", len(table.Rules()))
				return nil
			},
		},
		&cobra.Command{
			Use:   "schema",
			Short: "Print the JSON schema of the configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				_, err := cmd.OutOrStdout().Write(ext_config.Schema())
				return err
			},
		},
	)

	return configCmd
}
