package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/oakwood-commons/unifind/internal/dispatch"
	"github.com/oakwood-commons/unifind/internal/entity"
	"github.com/oakwood-commons/unifind/internal/finder"
	"github.com/oakwood-commons/unifind/internal/render"
)

type addOptions struct {
	region string
	parent int64
	yes    bool
}

func (a *app) addCommand() *cobra.Command {
	var o addOptions
	cmd := &cobra.Command{
		Use:   "add <kind> <name>",
		Short: "Add a record unless an identical one already exists",
		Long: `Searches for the name first. If an exact match exists under the same parent
(and, for institutions, in the same region) you are asked whether to use it
instead; nothing is created in that case.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := lookupKind(a.reg, args[0])
			if err != nil {
				return err
			}
			return a.add(cmd.Context(), cmd.OutOrStdout(), spec, strings.Join(args[1:], " "), o)
		},
	}
	cmd.Flags().StringVar(&o.region, "region", "", "region, for kinds matched on region")
	cmd.Flags().Int64Var(&o.parent, "parent", 0, "id of the parent record (required for kinds with a parent)")
	cmd.Flags().BoolVarP(&o.yes, "yes", "y", false, "use an existing record without asking")
	return cmd
}

func (a *app) add(ctx context.Context, w io.Writer, spec entity.Spec, name string, o addOptions) error {
	reg := a.reg
	if spec.HasParent() {
		if o.parent <= 0 {
			return parentRequired(spec, "adding")
		}
		var err error
		if reg, err = scopedRegistry(a.reg, spec); err != nil {
			return err
		}
	}
	client, err := a.client(ctx)
	if err != nil {
		return err
	}
	form, err := finder.NewForm(reg, client,
		finder.WithName("add"),
		finder.WithKinds(spec.Kind),
		finder.WithLogger(a.log),
		finder.WithSimilarity(a.cfg.Search.Similarity),
		finder.WithDispatchOptions(dispatch.WithQuietWindow(0), dispatch.WithPoolSize(1)),
	)
	if err != nil {
		return err
	}
	defer form.Close()

	if spec.HasParent() {
		if err := form.Select(spec.Parent, entity.Candidate{ID: o.parent, Name: fmt.Sprintf("#%d", o.parent)}); err != nil {
			return err
		}
	}
	c := form.Control(spec.Kind)
	c.SetText(name)
	c.SetDiscriminator(o.region)
	if err := form.Settle(ctx); err != nil {
		return err
	}

	out, err := form.SubmitCreate(ctx, spec.Kind)
	if err != nil {
		return err
	}
	rows, err := render.New(a.reg, a.log)
	if err != nil {
		return err
	}
	label := strings.ToLower(spec.DisplayLabel())

	if out.Existing != nil {
		ex := *out.Existing
		use := o.yes
		if !use {
			use, err = a.confirm(
				fmt.Sprintf("%s %q already exists (#%d). Use it?", spec.DisplayLabel(), rows.Row(spec.Kind, ex), ex.ID),
				"No keeps your text and adds nothing.",
			)
			if err != nil {
				return err
			}
		}
		res := finder.Abandon
		if use {
			res = finder.Navigate
		}
		if _, err := form.ResolveExisting(spec.Kind, res); err != nil {
			return err
		}
		if !use {
			_, err := fmt.Fprintf(w, "kept %q; nothing was added\n", name)
			return err
		}
		_, err := fmt.Fprintf(w, "using existing %s #%d %s\n", label, ex.ID, rows.Row(spec.Kind, ex))
		return err
	}

	created := *out.Created
	if _, err := fmt.Fprintf(w, "added %s #%d %s\n", label, created.ID, rows.Row(spec.Kind, created)); err != nil {
		return err
	}
	if len(out.Similar) > 0 {
		names := make([]string, 0, len(out.Similar))
		for _, s := range out.Similar {
			names = append(names, fmt.Sprintf("%s (#%d)", s.Name, s.ID))
		}
		if _, err := fmt.Fprintf(w, "similar: %s\n", strings.Join(names, ", ")); err != nil {
			return err
		}
	}
	return nil
}

// scopedRegistry keeps spec and its parent, with the parent promoted to a
// root so it can be selected by id alone.
func scopedRegistry(reg *entity.Registry, spec entity.Spec) (*entity.Registry, error) {
	parent, err := reg.Lookup(spec.Parent)
	if err != nil {
		return nil, err
	}
	parent.Parent = ""
	parent.ParentParam = ""
	return entity.NewRegistry(parent, spec)
}

func huhConfirm(title, description string) (bool, error) {
	var ok bool
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Affirmative("Use it").
				Negative("No").
				Value(&ok),
		),
	).Run()
	return ok, err
}
