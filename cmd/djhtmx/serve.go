package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/edelvalle/djhtmx/examples/todo"
	"github.com/edelvalle/djhtmx/pkg/server"
	"github.com/edelvalle/djhtmx/pkg/store"
)

func serveCmd() *cobra.Command {
	var (
		addr       string
		signingKey string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the example todo application",
		Long: `Start an HTTP server hosting the example todo application:
the index page, the WebSocket endpoint and the stateless event endpoint.
Detached session state lives in memory; embed the library and pass a SQL
or Redis store for multi-process deployments.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr, signingKey, verbose)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "Address to listen on")
	cmd.Flags().StringVar(&signingKey, "signing-key", "", "State signing key (random per run when empty)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	return cmd
}

func runServe(addr, signingKey string, verbose bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if signingKey == "" {
		signingKey = randomKey()
		logger.Warn("using a random signing key; sessions will not survive restarts")
	}

	cfg := server.DefaultConfig()
	cfg.Address = addr
	cfg.SigningKey = signingKey

	st := store.NewMemoryStore()
	defer st.Close()

	app := todo.NewApp(cfg, st, server.WithLogger(logger))

	r := chi.NewRouter()
	r.Mount("/", app.Routes())
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    cfg.Address,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Address)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := app.Manager.Shutdown(ctx); err != nil {
		logger.Error("session shutdown failed", "error", err)
	}
	return srv.Shutdown(ctx)
}

func randomKey() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}
