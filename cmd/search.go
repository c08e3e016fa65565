package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/oakwood-commons/unifind/internal/entity"
	"github.com/oakwood-commons/unifind/internal/render"
)

func (a *app) searchCommand() *cobra.Command {
	var parent int64
	cmd := &cobra.Command{
		Use:   "search <kind|all> <text>",
		Short: "Search one kind, or every hierarchical kind with \"all\"",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[1:], " ")
			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			width := outputWidth(w)

			if strings.EqualFold(args[0], "all") {
				hits, err := client.SearchAll(cmd.Context(), text)
				if err != nil {
					return err
				}
				return a.printHits(w, width, text, hits)
			}

			spec, err := lookupKind(a.reg, args[0])
			if err != nil {
				return err
			}
			var pid *int64
			if spec.HasParent() {
				if parent <= 0 {
					return parentRequired(spec, "searching")
				}
				pid = entity.IDPtr(parent)
			}
			cands, err := client.Search(cmd.Context(), entity.NewScope(spec.Kind, text, pid))
			if err != nil {
				return err
			}
			if len(cands) == 0 {
				_, err := fmt.Fprintf(w, "no %s matches %q\n", strings.ToLower(spec.DisplayLabel()), strings.TrimSpace(text))
				return err
			}
			rows, err := render.New(a.reg, a.log)
			if err != nil {
				return err
			}
			for i, row := range rows.Rows(spec.Kind, cands) {
				line := fmt.Sprintf("%6s  %s", "#"+strconv.FormatInt(cands[i].ID, 10), row)
				if _, err := fmt.Fprintln(w, fit(line, width)); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&parent, "parent", 0, "id of the selected parent (required for kinds with a parent)")
	return cmd
}

func (a *app) printHits(w io.Writer, width int, text string, hits []entity.Hit) error {
	if len(hits) == 0 {
		_, err := fmt.Fprintf(w, "nothing matches %q\n", strings.TrimSpace(text))
		return err
	}
	labelW := 0
	labels := make([]string, len(hits))
	for i, h := range hits {
		labels[i] = string(h.Kind)
		if spec, ok := a.reg.Spec(h.Kind); ok {
			labels[i] = spec.DisplayLabel()
		}
		labelW = max(labelW, runewidth.StringWidth(labels[i]))
	}
	for i, h := range hits {
		line := fmt.Sprintf("%s  %6s  %s", runewidth.FillRight(labels[i], labelW), "#"+strconv.FormatInt(h.ID, 10), h.Name)
		if h.Parent != "" {
			line += "  (" + h.Parent + ")"
		}
		if _, err := fmt.Fprintln(w, fit(line, width)); err != nil {
			return err
		}
	}
	return nil
}

// outputWidth returns the terminal width when w is a terminal, else 0.
func outputWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}

func fit(s string, width int) string {
	if width <= 0 {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}
