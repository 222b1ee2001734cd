package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"custodian/internal/platform/config"
	"custodian/internal/platform/logger"
	"custodian/internal/platform/tracer"
)

// main loads configuration, wires the application and runs the HTTP server
// until SIGINT or SIGTERM. Business logic lives in the internal packages.
func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:           "custodian",
		Short:         "Identity wallet service behind an authenticated API gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", os.Getenv("CUSTODIAN_CONFIG"), "path to the YAML configuration file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "custodian:", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.New(cfg.Log.Level)
	slog.SetDefault(log)

	shutdownTracing, err := tracer.Setup(ctx, cfg.Tracing)
	if err != nil {
		return err
	}

	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      app.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Info("starting custodian",
		"addr", cfg.Server.Addr,
		"root", cfg.Gateway.Root,
		"auth_scheme", cfg.Auth.Scheme,
		"wallet_store", cfg.Wallet.Store,
	)
	for _, route := range app.routes {
		log.Info("route bound", "group", route.Group, "prefix", cfg.Gateway.Root+route.Prefix)
	}

	serveErr := listen(ctx, srv, log)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if serveErr != nil {
		errs = append(errs, fmt.Errorf("http server: %w", serveErr))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	errs = append(errs, app.close(shutdownCtx))
	if err := shutdownTracing(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		log.Error("shutdown incomplete", "error", err)
		return err
	}
	log.Info("server stopped")
	return nil
}

// listen serves srv until ctx is done or the server fails. A failure such as
// an address already in use is returned; a stop requested through ctx is not.
func listen(ctx context.Context, srv *http.Server, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		log.Error("server error", "error", err)
		return err
	}
}
