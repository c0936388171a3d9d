package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"peer-validation/internal/api"
	"peer-validation/internal/jobs"
)

const shutdownTimeout = 10 * time.Second

var flagNoJobs bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the HTTP API and the periodic ring/scan jobs",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&flagNoJobs, "no-jobs", false, "serve the API only, without the periodic jobs")
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	server := api.NewServer(a.svc, a.registry, a.cfg.HTTPAddr, a.log)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info().Str("addr", a.cfg.HTTPAddr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.log.Info().Msg("shutting down...")
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		return server.Shutdown(shutdownCtx)
	})

	if !flagNoJobs {
		sched := jobs.NewScheduler(a.svc, a.cfg.JobInterval, a.cfg.ScanInterval, a.svc.Settings().Rules.SLA, a.metrics, a.log)
		g.Go(func() error {
			return sched.Run(ctx)
		})
	}

	return g.Wait()
}
