package cli

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/neurostream-systems/neurostream/internal/config"
	"github.com/neurostream-systems/neurostream/internal/handlers"
	"github.com/neurostream-systems/neurostream/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion service",
	Long:  "Start the ingestion workers from the sources manifest and serve the control API.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := buildStack(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.close()

		if cfg.SourcesManifest != "" {
			manifest, err := config.LoadManifest(cfg.SourcesManifest)
			if err != nil {
				return err
			}
			for _, src := range manifest.Sources {
				if _, err := st.coord.StartSourceNamed(context.WithoutCancel(ctx), src.Adapter, src.SourceConfig); err != nil {
					return fmt.Errorf("start source %s: %w", src.DeviceID, err)
				}
			}
			st.log.Info("manifest sources started", "count", len(manifest.Sources))
		}

		listenAddr := fmt.Sprintf(":%d", cfg.Server.Port)
		if serveAddr != "" {
			listenAddr = serveAddr
		}

		srv := &http.Server{
			Addr:         listenAddr,
			Handler:      server.NewRouter(handlers.NewIngestHandler(st.coord, st.log)),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		}

		errCh := make(chan error, 1)
		go func() {
			st.log.Info("ingestion service listening", "addr", listenAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			return fmt.Errorf("server error: %w", err)
		case <-ctx.Done():
		}
		st.log.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			st.log.Error("http shutdown failed", "error", err)
		}
		if err := st.coord.Shutdown(shutdownCtx); err != nil {
			st.log.Error("pipeline shutdown incomplete", "error", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "override listen address")
}
