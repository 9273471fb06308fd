package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/kkk0312/mdia/internal/config"
	"github.com/kkk0312/mdia/internal/db"
	"github.com/kkk0312/mdia/internal/metrics"
	"github.com/kkk0312/mdia/internal/web"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web UI for analysis history and reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Serve.Addr = addr
			}
			storeDB, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()

			app := fx.New(
				fx.NopLogger,
				fx.Supply(cfg, db.NewStore(storeDB)),
				fx.Provide(
					metrics.New,
					newWebServer,
					newHTTPServer,
				),
				fx.Invoke(func(*http.Server) {}),
			)
			if err := app.Start(cmd.Context()); err != nil {
				return fmt.Errorf("start server: %w", err)
			}
			sig := <-app.Wait()
			log.Info().Int("exit_code", sig.ExitCode).Msg("shutting down")
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return app.Stop(stopCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func newWebServer(store *db.Store, m *metrics.Metrics) (*web.Server, error) {
	return web.NewServer(store, web.Options{
		Searcher: searchIndex(),
		Metrics:  m.Handler(),
	})
}

func newHTTPServer(lc fx.Lifecycle, cfg config.Config, srv *web.Server) *http.Server {
	server := &http.Server{
		Addr:              cfg.Serve.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", server.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", server.Addr, err)
			}
			log.Info().Str("addr", "http://"+ln.Addr().String()).Msg("web ui listening")
			go func() {
				if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("web ui stopped")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
	return server
}
