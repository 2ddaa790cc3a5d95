package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/lineage/internal/config"
)

func newConfigCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with lineage configuration files",
	}
	cmd.AddCommand(newConfigLintCmd(ctx))
	cmd.AddCommand(newConfigPrintCmd(ctx))
	return cmd
}

func newConfigLintCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Validate a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig(cmd)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			source := cfg.Path
			if source == "" {
				source = "defaults"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", source)
			return nil
		},
	}
	return cmd
}

func newConfigPrintCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration after defaults and overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig(cmd)
			if err != nil {
				return err
			}
			if ctx.json() {
				return ctx.writeJSON(cmd.OutOrStdout(), cfg)
			}
			return config.Encode(cmd.OutOrStdout(), cfg)
		},
	}
	return cmd
}
