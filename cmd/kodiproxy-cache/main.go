// Command kodiproxy-cache runs a caching node: a local cachestore.Store
// fronted by fileservice.CacheProxy, forwarding to an authoritative
// kodiproxy-server and, when [cache] notify_websocket is set, invalidating
// its mirror on push notifications (SPEC_FULL §4.6).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/schwartzmorn/kodiproxy-go/internal/cachestore"
	"github.com/schwartzmorn/kodiproxy-go/internal/config"
	"github.com/schwartzmorn/kodiproxy-go/internal/fileservice"
	"github.com/schwartzmorn/kodiproxy-go/internal/notify"
	"github.com/schwartzmorn/kodiproxy-go/internal/pidfile"
	"github.com/schwartzmorn/kodiproxy-go/internal/shutdown"
)

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
		Use:     "kodiproxy-cache",
		Short:   "Run a kodiproxy caching node in front of an authoritative server",
		Version: version,
		RunE:    runCache,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "kodiproxy-cache.toml", "path to the cache node TOML config file")

	return cmd
}

func runCache(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadCache(flagConfigPath)
	if err != nil {
		return err
	}

	logger := config.NewLogger(cfg.Logging)

	cleanup, err := pidfile.Acquire(filepath.Join(cfg.RootPath, "kodiproxy-cache.pid"))
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := shutdown.Context(cmd.Context(), logger)

	cache, err := cachestore.Open(ctx, cfg.RootPath, logger)
	if err != nil {
		return fmt.Errorf("opening cache store: %w", err)
	}
	defer cache.Close()

	if cfg.Cache.WatchDir != "" {
		watcher, err := cachestore.WatchDir(cfg.Cache.WatchDir, logger)
		if err != nil {
			return fmt.Errorf("starting tamper watch: %w", err)
		}
		defer watcher.Close()

		go watcher.Run(ctx)
	}

	proxy := fileservice.NewCacheProxy(cache, cfg.Upstream, &http.Client{Timeout: 30 * time.Second}, logger)

	srv := &http.Server{
		Addr:    cfg.Host,
		Handler: proxy.Routes(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("cache node listening", slog.String("addr", cfg.Host), slog.String("upstream", cfg.Upstream))

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

	if cfg.Cache.NotifyWebsocket {
		g.Go(func() error {
			subscribeToChanges(gctx, cfg.Upstream, cache, logger)
			return nil
		})
	}

	return g.Wait()
}

// subscribeToChanges connects to the authoritative node's /changes
// websocket and invalidates the corresponding cache entry on each event.
// On a connection failure it retries after 5 seconds; events published in
// the meantime are lost, and CacheProxy keeps serving the entries it holds
// as synced, since nothing else re-checks them against upstream.
func subscribeToChanges(ctx context.Context, upstream string, cache *cachestore.Store, logger *slog.Logger) {
	wsURL := "ws" + strings.TrimPrefix(upstream, "http") + "/changes"

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.Dial(ctx, wsURL, nil)
		if err != nil {
			logger.Debug("notify: connecting to upstream change feed failed, will retry", slog.String("error", err.Error()))
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}

			continue
		}

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				conn.Close(websocket.StatusNormalClosure, "")
				break
			}

			var ev notify.ChangeEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}

			if err := cache.Invalidate(ctx, ev.Path, ev.Name); err != nil {
				logger.Warn("notify: invalidating cache entry", slog.String("error", err.Error()))
			}
		}
	}
}
