// Command kodiproxy-server runs the authoritative node: the transactional
// file repository (internal/filerepo) exposed over HTTP by
// internal/fileservice.Service, with a websocket change-notification
// channel (internal/notify) so caching nodes don't have to poll.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/schwartzmorn/kodiproxy-go/internal/config"
	"github.com/schwartzmorn/kodiproxy-go/internal/fileservice"
	"github.com/schwartzmorn/kodiproxy-go/internal/filerepo"
	"github.com/schwartzmorn/kodiproxy-go/internal/notify"
	"github.com/schwartzmorn/kodiproxy-go/internal/pidfile"
	"github.com/schwartzmorn/kodiproxy-go/internal/shutdown"
)

// version is set at build time via ldflags.
var version = "dev"

var flagConfigPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "kodiproxy-server",
		Short:   "Run the authoritative kodiproxy file repository node",
		Version: version,
		RunE:    runServer,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "kodiproxy-server.toml", "path to the server TOML config file")

	return cmd
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadServer(flagConfigPath)
	if err != nil {
		return err
	}

	logger := config.NewLogger(cfg.Logging)

	cleanup, err := pidfile.Acquire(filepath.Join(cfg.RootPath, "kodiproxy-server.pid"))
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := shutdown.Context(cmd.Context(), logger)

	repo, err := filerepo.Open(ctx, cfg.RootPath, logger)
	if err != nil {
		return fmt.Errorf("opening file repository: %w", err)
	}
	defer repo.Close()

	broadcast := notify.New(logger)
	svc := fileservice.New(repo, logger, broadcast)

	srv := &http.Server{
		Addr:    cfg.Host,
		Handler: svc.Routes(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server node listening", slog.String("addr", cfg.Host), slog.String("root", cfg.RootPath))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), fileservice.DefaultHandlerTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
