package cmd

import (
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/oakwood-commons/unifind/internal/entity"
	"github.com/oakwood-commons/unifind/internal/ui"
)

type selection struct {
	Kind   entity.Kind `yaml:"kind"`
	ID     int64       `yaml:"id"`
	Name   string      `yaml:"name"`
	Region string      `yaml:"region,omitempty"`
}

func (a *app) findCommand() *cobra.Command {
	var kinds kindsValue
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Open the interactive find-or-add form",
		Long: `Opens one search field per kind. Type to search, pick a suggestion with the
arrow keys and enter, or press ctrl+a to add what you typed. ctrl+s prints the
selections as YAML and exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var only []entity.Kind
			for _, name := range kinds.names {
				spec, err := lookupKind(a.reg, name)
				if err != nil {
					return err
				}
				only = append(only, spec.Kind)
			}
			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			m, err := ui.New(a.reg, client, ui.Options{
				Kinds:      only,
				NoColor:    a.run.NoColor,
				MaxRows:    a.cfg.UI.MaxRows,
				Similarity: a.cfg.Search.Similarity,
				Dispatch:   a.dispatchOptions(),
				Logger:     a.log.WithName("form"),
				Regions:    client,
			})
			if err != nil {
				return err
			}
			if err := ui.Run(m); err != nil {
				return err
			}
			if !m.Finished() {
				return nil
			}
			return writeSelections(cmd.OutOrStdout(), m.Form().Kinds(), m.Selections())
		},
	}
	cmd.Flags().Var(&kinds, "kind", "kind to show along with its ancestors (repeatable)")
	return cmd
}

// writeSelections prints the committed selections, ancestors first.
func writeSelections(w io.Writer, order []entity.Kind, sel map[entity.Kind]entity.Candidate) error {
	out := make([]selection, 0, len(sel))
	for _, k := range order {
		c, ok := sel[k]
		if !ok {
			continue
		}
		out = append(out, selection{Kind: k, ID: c.ID, Name: c.Name, Region: c.Region})
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return err
	}
	return enc.Close()
}
