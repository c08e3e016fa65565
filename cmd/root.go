// Package cmd implements the unifind command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/oakwood-commons/unifind/internal/backend"
	"github.com/oakwood-commons/unifind/internal/config"
	"github.com/oakwood-commons/unifind/internal/dispatch"
	"github.com/oakwood-commons/unifind/internal/entity"
	"github.com/oakwood-commons/unifind/pkg/logger"
	"github.com/oakwood-commons/unifind/pkg/settings"
)

// TokenEnv overrides the configured backend token.
const TokenEnv = "UNIFIND_TOKEN"

// app carries flag values and the state PersistentPreRunE builds for the
// subcommands.
type app struct {
	configFile string
	backendURL string
	logLevel   int
	logFile    string
	noColor    bool

	cfg     *config.Config
	reg     *entity.Registry
	log     logr.Logger
	run     *settings.Run
	closers []io.Closer

	// confirm asks a yes/no question; add uses it for duplicates.
	confirm func(title, description string) (bool, error)
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{confirm: huhConfirm})
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   settings.CliBinaryName,
		Short: "Find or add institutions, colleges, schools, modules and lecturers",
		Long: `unifind searches a hierarchical catalog (institution → college → school → module,
plus lecturers) and adds records that do not exist yet, refusing exact
duplicates within the same parent.`,
		Example: `  unifind find
  unifind search institution oxford
  unifind search college eng --parent 1
  unifind add college "Law College" --parent 1
  unifind serve --seed catalog.yaml`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) { a.teardown() },
	}
	root.Version = versionString()
	root.SetVersionTemplate("{{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config-file", "", "path to a YAML or TOML config file")
	pf.StringVar(&a.backendURL, "backend-url", "", "backend base URL (overrides the config file)")
	pf.IntVarP(&a.logLevel, "log-level", "v", 0, "log verbosity; 1 and above enable debug output")
	pf.StringVar(&a.logFile, "log-file", "", "write logs to this file instead of stderr")
	pf.BoolVar(&a.noColor, "no-color", false, "disable color output")

	root.AddCommand(
		a.findCommand(),
		a.searchCommand(),
		a.addCommand(),
		a.kindsCommand(),
		a.serveCommand(),
		versionCommand(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	switch {
	case a.logFile != "":
		f, err := os.OpenFile(a.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		a.closers = append(a.closers, f)
		logger.SetOutput(f)
	case cmd.Name() == "find":
		// The form owns the terminal.
		logger.SetOutput(io.Discard)
	}
	level := int8(-min(max(a.logLevel, 0), 127))
	lgr := logger.WithValues(logger.Get(level), logger.CommandKey, cmd.Name())
	a.log = *lgr

	cfg, err := config.Load(config.ResolvePath(a.configFile))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.backendURL != "" {
		cfg.Backend.URL = a.backendURL
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	reg, err := cfg.Registry()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.reg = reg

	a.run = settings.NewCliParams()
	a.run.MinLogLevel = level
	a.run.NoColor = a.noColor || cfg.UI.NoColor
	a.run.Session = cfg.Session()
	if tok := strings.TrimSpace(os.Getenv(TokenEnv)); tok != "" {
		a.run.Session.Token = tok
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logger.WithLogger(ctx, lgr)
	ctx = settings.IntoContext(ctx, a.run)
	cmd.SetContext(ctx)
	return nil
}

func (a *app) teardown() {
	for _, c := range a.closers {
		_ = c.Close()
	}
	a.closers = nil
}

func (a *app) client(ctx context.Context) (*backend.Client, error) {
	return backend.NewClient(a.cfg.Backend.URL, a.reg,
		backend.WithTimeout(a.cfg.Backend.Timeout.Std()),
		backend.WithSession(settings.SessionFromContext(ctx)),
		backend.WithLogger(a.log.WithName("backend")),
	)
}

func (a *app) dispatchOptions() []dispatch.Option {
	opts := []dispatch.Option{dispatch.WithQuietWindow(a.cfg.Search.QuietWindow.Std())}
	if a.cfg.Search.PoolSize > 0 {
		opts = append(opts, dispatch.WithPoolSize(a.cfg.Search.PoolSize))
	}
	return opts
}

// lookupKind accepts a kind name ("sub_unit", "sub-unit") or its label
// ("college").
func lookupKind(reg *entity.Registry, s string) (entity.Spec, error) {
	if spec, ok := reg.Spec(entity.ParseKind(s)); ok {
		return spec, nil
	}
	for _, k := range reg.Kinds() {
		spec, _ := reg.Spec(k)
		if strings.EqualFold(spec.DisplayLabel(), strings.TrimSpace(s)) {
			return spec, nil
		}
	}
	return entity.Spec{}, fmt.Errorf("%w: %q (available: %s)", entity.ErrUnknownKind, s, kindNames(reg))
}

func kindNames(reg *entity.Registry) string {
	names := make([]string, 0, len(reg.Kinds()))
	for _, k := range reg.Kinds() {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}

func parentRequired(spec entity.Spec, verb string) error {
	return &entity.ValidationError{
		Kind:   spec.Kind,
		Field:  spec.ParentParam,
		Reason: fmt.Errorf("%w: %s a %s needs --parent", entity.ErrParentRequired, verb, strings.ToLower(spec.DisplayLabel())),
	}
}

func versionString() string {
	v := settings.VersionInformation
	return fmt.Sprintf("%s %s (commit %s, built %s)", settings.CliBinaryName, v.BuildVersion, v.Commit, v.BuildTime)
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the unifind version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), versionString())
			return err
		},
	}
}
