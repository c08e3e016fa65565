package cmd

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (a *app) kindsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "Print the kind table in effect, as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(a.cfg.Specs()); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
