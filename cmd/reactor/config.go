package main

import (
	"github.com/spf13/cobra"

	"github.com/legamerdc/reactor/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	var cfgFile string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			out, err := config.Dump(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	show.Flags().StringVar(&cfgFile, "config", "", "YAML config file")
	config.RegisterFlags(show.Flags())
	cmd.AddCommand(show)
	return cmd
}
