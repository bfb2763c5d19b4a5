// Command server runs the duck-flight query cache over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"duck-flight/internal/app"
	"duck-flight/internal/config"
)

type options struct {
	envFile    string
	configFile string
	dev        bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	fs.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading FLIGHT_* variables")
	fs.StringVarP(&opts.configFile, "config", "c", "", "YAML config file (defaults to $FLIGHT_CONFIG_FILE)")
	fs.BoolVar(&opts.dev, "dev", false, "in-memory store, SQLite registry and text logs")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return fmt.Errorf("load %s: %w", opts.envFile, err)
	}
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if opts.dev {
		cfg.Dev()
	}

	logger := newLogger(cfg, os.Stderr)
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "warning", w)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	a, err := app.New(ctx, app.Deps{Cfg: cfg, Logger: logger})
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return fmt.Errorf("start: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: result downloads stream for as long as they need.
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening",
			"addr", srv.Addr,
			"try", "flightctl --host http://"+hostForListenAddr(srv.Addr)+" health")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	case serveErr = <-errCh:
		logger.Error("server error", "error", serveErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	// Stop taking requests first, then drain running jobs.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", "error", err)
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Warn("app shutdown", "error", err)
	}
	logger.Info("stopped")
	return serveErr
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, hopts))
	}
	return slog.New(slog.NewJSONHandler(w, hopts))
}

// hostForListenAddr turns a listen address into something a client on the
// same machine can dial.
func hostForListenAddr(listenAddr string) string {
	addr := strings.TrimSpace(listenAddr)
	if addr == "" {
		return "localhost:8000"
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
