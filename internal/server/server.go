// Package server exposes the ask API over HTTP and hosts the scheduled
// indexer when a cron is configured.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/estuarylab/knowledged/config"
	"github.com/estuarylab/knowledged/internal/ask"
	"github.com/estuarylab/knowledged/internal/indexer"
	"github.com/estuarylab/knowledged/internal/llm"
	"github.com/estuarylab/knowledged/internal/store"
	"github.com/estuarylab/knowledged/internal/telemetry"
	"github.com/estuarylab/knowledged/internal/vector"
)

// Run wires every dependency and serves until the listener fails.
func Run(cfg *config.Config) error {
	e := newEcho()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := telemetry.NewMetrics(reg)

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if cfg.Telemetry.Enabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	ctx := context.Background()

	dsn, err := cfg.Warehouse.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		log.Printf("[HTTP] migrate: %v", err)
	}
	st, err := store.New(ctx, dsn)
	if err != nil {
		return err
	}

	if err := cfg.LLM.Validate(); err != nil {
		return err
	}
	provider := llm.NewOpenAIProvider(cfg.LLM)

	idx, err := vector.NewPineconeIndex(ctx, cfg.Vector, cfg.LLM.Dimensions, nil)
	if err != nil {
		return err
	}

	var cache *ask.RedisCache
	var askCache ask.Cache
	if cfg.Cache.Addr != "" {
		cache = ask.NewRedisCache(cfg.Cache)
		if err := cache.Client().Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Cache.Addr, err)
		}
		askCache = cache
	}

	svc := ask.NewService(provider, idx, askCache, cfg.LLM, nil, metrics)
	h := &AskHandler{Asker: svc, Timeout: cfg.Server.RequestTimeout}
	h.Register(e.Group("/api"))

	if cfg.Indexer.Cron != "" {
		driver := indexer.New(st, provider, idx, cfg.Indexer, cfg.LLM.EmbeddingModel, nil, metrics)
		sched := &Scheduler{
			Driver: driver,
			Cron:   cfg.Indexer.Cron,
			Stop:   make(chan struct{}),
			Logger: log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
		}
		if cache != nil {
			sched.Lock = NewRedisRunLock(cache.Client())
		}
		sched.Start()
		defer close(sched.Stop)
	}

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":10020"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// newEcho builds the echo instance with the middleware and the unified
// error handler every route shares.
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))
	return e
}
