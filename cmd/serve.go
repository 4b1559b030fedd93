package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/riskcheck/internal/api"
	"github.com/sells-group/riskcheck/internal/cache"
	"github.com/sells-group/riskcheck/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the risk check HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initEnv(ctx, cfg, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		handler := api.NewRouter(env.Service, api.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Breakers:       env.Guard.Breakers(),
		})

		if cfg.Server.JanitorInterval > 0 {
			go runJanitor(ctx, env.Store, env.Cache, cfg.Server.JanitorInterval, cfg.Server.WindowRetention)
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// runJanitor purges quota windows older than retention and dead cache
// entries every interval until ctx ends.
func runJanitor(ctx context.Context, qs store.QuotaStore, c cache.Cache, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx, qs, c, retention)
		}
	}
}

func sweep(ctx context.Context, qs store.QuotaStore, c cache.Cache, retention time.Duration) {
	log := zap.L().With(zap.String("component", "janitor"))

	windows, err := qs.PurgeWindows(ctx, time.Now().Add(-retention))
	if err != nil {
		log.Warn("janitor: purge windows failed", zap.Error(err))
	}
	entries, err := c.Purge(ctx)
	if err != nil {
		log.Warn("janitor: purge cache failed", zap.Error(err))
	}
	if windows > 0 || entries > 0 {
		log.Info("janitor: purged", zap.Int("windows", windows), zap.Int("cache_entries", entries))
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
