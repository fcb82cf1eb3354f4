package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/machine-telemetry/backend/internal/api"
	"github.com/machine-telemetry/backend/internal/config"
	"github.com/machine-telemetry/backend/internal/connection"
	"github.com/machine-telemetry/backend/internal/distributor"
	"github.com/machine-telemetry/backend/internal/history"
	"github.com/machine-telemetry/backend/internal/metrics"
	"github.com/machine-telemetry/backend/internal/timeseries"
	"github.com/machine-telemetry/backend/internal/transport"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Printf("Failed to create directories: %v\n", err)
		os.Exit(1)
	}

	// Metrics registry
	registry := prometheus.NewRegistry()
	var tel *metrics.Telemetry
	if cfg.Advanced.EnableMetrics {
		tel = metrics.New(registry)
	}

	// Upstream transport
	tr, err := buildTransport(cfg)
	if err != nil {
		fmt.Printf("Failed to configure transport: %v\n", err)
		os.Exit(1)
	}

	// Connection manager and fan-out
	manager := connection.NewManager(tr, connection.WithMetrics(tel))
	dist := distributor.New(manager)
	defer dist.Close()

	// Time-series buffers
	series := timeseries.NewManager(timeseries.Config{
		MaxPoints:      cfg.Series.MaxPoints,
		MaxAge:         cfg.Series.MaxAge(),
		DedupTolerance: cfg.Series.DedupTolerance(),
		SweepInterval:  cfg.Series.SweepInterval(),
	}, timeseries.WithMetrics(tel))

	unbind := series.BindDistributor(dist)
	defer unbind()

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	series.StartSweep(sweepCtx)

	// Historical backfill source
	var archive *history.ArchiveStore
	var loader history.Loader
	switch cfg.History.Source {
	case "http":
		loader = history.NewHTTPLoader(cfg.History.BaseURL,
			time.Duration(cfg.History.RequestTimeoutSeconds)*time.Second)
	default:
		archive, err = history.NewArchiveStore(cfg.Storage.DataDirectory)
		if err != nil {
			fmt.Printf("Failed to open archive store: %v\n", err)
			os.Exit(1)
		}
		defer archive.Close()
		unbindArchive := archive.BindConnection(manager)
		defer unbindArchive()
		loader = archive
	}
	backfiller := history.NewBackfiller(loader, series)

	// Connect upstream in the background so the API comes up even when the
	// telemetry source is down. The manager reconnects on demand.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := manager.Connect(ctx); err != nil {
			fmt.Printf("[Main] Initial connect failed: %v\n", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true
	api.SetupMiddleware(e)

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return path == "/health" || path == "/metrics" ||
				strings.HasSuffix(path, "/series/msgpack")
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize:         1024 * 4,
		DisablePrintStack: false,
	}))

	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	handlers := api.NewHandlers(&api.Dependencies{
		Distributor:  dist,
		Series:       series,
		Backfiller:   backfiller,
		Archive:      archive,
		HistoryLimit: cfg.History.DefaultLimit,
		Version:      Version,
	})
	defer handlers.Stream.Close()

	api.RegisterRoutes(e, handlers)
	api.RegisterWebSocketRoutes(e, handlers)

	if cfg.Advanced.EnableMetrics {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Machine Telemetry Server                        ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Transport:  %-45s║\n", cfg.Telemetry.Mode)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", *configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.Storage.DataDirectory)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	go func() {
		if err := e.StartServer(s); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Server stopped: %v\n", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	fmt.Println("\n[Main] Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		fmt.Printf("[Main] Shutdown error: %v\n", err)
	}
	manager.Disconnect()
}

func buildTransport(cfg *config.AppConfig) (transport.EventTransport, error) {
	retry := transport.RetryPolicy{
		MaxAttempts: cfg.Telemetry.RetryAttempts,
		Interval:    cfg.Telemetry.RetryInterval(),
	}

	switch cfg.Telemetry.Mode {
	case "websocket", "":
		return transport.NewWSTransport(transport.WSConfig{
			URL:          cfg.Telemetry.URL,
			Retry:        retry,
			PingInterval: cfg.Telemetry.PingInterval(),
		}), nil
	case "mqtt":
		return transport.NewMQTTTransport(transport.MQTTConfig{
			Broker:      cfg.Telemetry.Broker,
			ClientID:    cfg.Telemetry.ClientID,
			Username:    cfg.Telemetry.Username,
			Password:    cfg.Telemetry.Password,
			TopicPrefix: cfg.Telemetry.TopicPrefix,
			Retry:       retry,
		}), nil
	default:
		return nil, fmt.Errorf("unknown telemetry mode: %q", cfg.Telemetry.Mode)
	}
}
