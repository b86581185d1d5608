// SPDX-License-Identifier: GPL-3.0-or-later

// Command servio-demo serves a hello-world HTTP service and a WebSocket
// echo service through the servio adapters.
//
// Usage:
//
//	servio-demo [-config config.toml] [-listen addr] [-h2c]
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bassosimone/servio"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func main() {
	configPath := flag.String("config", "", "path to the TOML config file")
	listenAddr := flag.String("listen", "", "TCP address to listen on (overrides config)")
	enableH2C := flag.Bool("h2c", false, "enable cleartext HTTP/2 (overrides config)")
	flag.Parse()

	cfg := defaultDemoConfig()
	if *configPath != "" {
		var err error
		cfg, err = loadDemoConfig(*configPath)
		if err != nil {
			slog.Error("cannot load config", slog.Any("err", err))
			os.Exit(1)
		}
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *enableH2C {
		cfg.H2C = true
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", slog.Any("err", err))
		os.Exit(1)
	}
}

// run serves until SIGINT or SIGTERM.
func run(cfg demoConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	metrics, err := servio.NewMetrics(reg)
	if err != nil {
		return err
	}

	scfg := servio.NewConfig()
	scfg.BridgeFairness = cfg.BridgeFairness
	scfg.BufferCapacity = cfg.BufferCapacity
	scfg.Metrics = metrics

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newHandler(scfg, logger, reg, cfg),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errch := make(chan error, 1)
	go func() {
		logger.Info("serving", slog.String("listenAddr", cfg.ListenAddr), slog.Bool("h2c", cfg.H2C))
		errch <- srv.ListenAndServe()
	}()

	select {
	case err := <-errch:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newHandler wires the services, the adapters, and the metrics endpoint.
func newHandler(scfg *servio.Config, logger *slog.Logger, reg *prometheus.Registry, cfg demoConfig) http.Handler {
	hello := servio.NewPlainTextResponse(http.StatusOK, "Hello, world!\n", nil)
	router := servio.NewProtocolRouter().
		Handle(servio.ProtocolHTTP, servio.NewScopeLogger[*servio.HTTPScope](scfg, logger, hello)).
		Handle(servio.ProtocolWebSocket, servio.NewBuffer(scfg, newEchoService()))

	mux := http.NewServeMux()
	mux.Handle("/", servio.NewWebSocketAdapter(scfg, logger, router))
	if cfg.MetricsPath != "" {
		mux.Handle(cfg.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	var handler http.Handler = mux
	if cfg.H2C {
		handler = h2c.NewHandler(mux, &http2.Server{})
	}
	return handler
}
