package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/oakwood-commons/unifind/internal/catalog"
	"github.com/oakwood-commons/unifind/internal/server"
	"github.com/oakwood-commons/unifind/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	addr     string
	dataDir  string
	inMemory bool
	seed     string
}

func (a *app) serveCommand() *cobra.Command {
	var o serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference search and create backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			w := cmd.OutOrStdout()
			return a.serve(ctx, o, func(addr string) {
				fmt.Fprintf(w, "listening on http://%s\n", addr)
			})
		},
	}
	cmd.Flags().StringVar(&o.addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&o.dataDir, "data-dir", "", "catalog directory (default from config, then $XDG_DATA_HOME/unifind)")
	cmd.Flags().BoolVar(&o.inMemory, "in-memory", false, "keep the catalog in memory only")
	cmd.Flags().StringVar(&o.seed, "seed", "", "YAML file of records to load at startup")
	return cmd
}

// serve runs until ctx is done. ready is called with the bound address once
// the listener is up.
func (a *app) serve(ctx context.Context, o serveOptions, ready func(addr string)) error {
	addr := o.addr
	if addr == "" {
		addr = a.cfg.Server.Addr
	}
	dir := o.dataDir
	if dir == "" {
		dir = a.cfg.DataDir()
	}
	log := a.log.WithName("catalog")
	store, err := catalog.Open(dir, o.inMemory || a.cfg.Server.InMemory, a.reg,
		catalog.WithLogger(log),
		catalog.WithLimit(a.cfg.Server.Limit),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error(err, "close catalog")
		}
	}()

	srv := server.New(store, server.WithLogger(a.log.WithName("server")))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if o.seed != "" {
			if err := seedFrom(gctx, store, o.seed); err != nil {
				return err
			}
		}
		if err := srv.Start(addr); err != nil {
			return err
		}
		if ready != nil {
			ready(srv.Addr())
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

func seedFrom(ctx context.Context, store *catalog.Store, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	nodes, err := catalog.ParseSeed(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	n, err := store.Seed(ctx, nodes)
	if err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	logger.FromContext(ctx).Info("catalog seeded", "file", path, "created", n)
	return nil
}
