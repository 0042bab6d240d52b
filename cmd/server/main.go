package main

import (
	"context"
	"macrodash/internal/api"
	"macrodash/internal/cache"
	"macrodash/internal/config"
	"macrodash/internal/models"
	"macrodash/internal/pipeline"
	"macrodash/internal/registry"
	"macrodash/internal/telemetry"
	"macrodash/internal/viewstate"
	"macrodash/internal/worldbank"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const sessionIdle = 2 * time.Hour

func main() {
	logger := log.New("macrodash")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)

	reg, err := registry.Default().WithPrimary(cfg.PrimaryCountry)
	if err != nil {
		logger.Fatalf("registry: %v", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := telemetry.New(promReg)
	if err != nil {
		logger.Fatalf("telemetry: %v", err)
	}

	// 1. Wire the pipeline
	policy := worldbank.DefaultPolicy()
	policy.MaxAttempts = cfg.FetchAttempts
	policy.BaseDelay = cfg.FetchBaseDelay
	policy.Jitter = cfg.FetchJitter

	client := worldbank.NewClient(cfg.BaseURL,
		worldbank.WithHTTPClient(&http.Client{Timeout: cfg.FetchTimeout}),
		worldbank.WithPerPage(cfg.FetchPerPage),
		worldbank.WithMaxPages(cfg.FetchMaxPages),
		worldbank.WithPolicy(policy),
		worldbank.WithRateLimit(cfg.FetchRPS, cfg.FetchConcurrency),
		worldbank.WithObserver(metrics),
		worldbank.WithLogger(logger),
	)
	series := cache.New[models.SeriesSet](cache.WithRecorder(metrics))
	p := pipeline.New(reg, viewstate.New(reg, time.Now().Year()), client, series, pipeline.Options{
		TTL:         cfg.CacheTTL,
		Window:      cache.Window{PerPage: cfg.FetchPerPage, MaxPages: cfg.FetchMaxPages},
		Concurrency: cfg.FetchConcurrency,
	}, logger)
	sessions := pipeline.NewSessions(p)

	// 2. Initialize Echo (Starts Instantly)
	e := echo.New()
	e.HideBanner = true
	e.Logger = logger
	e.Use(middleware.RequestID())
	e.Use(middleware.CORS())
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	h := api.NewHandler(p, sessions)
	h.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Warm the default view in the background
	if cfg.WarmCache {
		go func() {
			logger.Info("BACKGROUND: warming default view...")
			t0 := time.Now()
			b, err := p.Warm(ctx)
			if err != nil {
				logger.Warnf("BACKGROUND: warm-up aborted: %v", err)
				return
			}
			h.SetWarm(true)
			logger.Infof("BACKGROUND: warm-up done in %v (%d failures)", time.Since(t0), len(b.Failures))
		}()
	} else {
		h.SetWarm(true)
	}

	// 4. Housekeeping
	go func() {
		tick := time.NewTicker(cfg.CacheTTL)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				n := series.Sweep()
				m := sessions.Expire(sessionIdle)
				logger.Debugf("housekeeping: %d cache entries, %d sessions dropped", n, m)
			}
		}
	}()

	// 5. Start Server
	go func() {
		logger.Infof("Server ready on %s (primary %s)", cfg.Addr, reg.Primary())
		if err := e.Start(cfg.Addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal(err)
		}
	}()

	<-ctx.Done()
	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdown); err != nil {
		logger.Error(err)
	}
}
