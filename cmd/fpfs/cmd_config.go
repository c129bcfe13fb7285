package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"fpfs/pkg/config"
)

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.CreateDefaultConfigFile(c.configPath); err != nil {
				return err
			}
			c.logger.Info("Configuration written", zap.String("path", c.configPath))
			fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n", c.configPath)
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Validate and print the effective configuration",
		Long: `Loads the configuration file, falling back to defaults when it does not
exist, validates every section and prints the result as YAML.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(c.configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
