package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"strobe/config"
	_ "strobe/docs"
	"strobe/metrics"
	"strobe/scanner"
)

const (
	memoryQueueDepth = 1024
	shutdownTimeout  = 10 * time.Second
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Store  TaskStore
	Logger *slog.Logger
	// APIKey guards /api/v1 when set.
	APIKey string
	// Redis enables per-client rate limiting when set and RateLimit > 0.
	Redis      redis.Cmdable
	RateLimit  int
	RateWindow time.Duration
	// Metrics is served on /metrics when set.
	Metrics http.Handler
}

// NewRouter builds the HTTP handler. /healthz, /metrics and /swagger are
// public; the scan endpoints live under /api/v1.
func NewRouter(o RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLoggingMiddleware(o.Logger), SecurityHeadersMiddleware())

	srv := NewServer(o.Store, o.Logger)
	r.GET("/healthz", srv.healthHandler)
	if o.Metrics != nil {
		r.GET("/metrics", gin.WrapH(o.Metrics))
	}
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1")
	if o.APIKey != "" {
		v1.Use(AuthMiddleware(o.APIKey, o.Logger))
	}
	if o.Redis != nil && o.RateLimit > 0 {
		v1.Use(RateLimitMiddleware(o.Redis, int64(o.RateLimit), o.RateWindow, o.Logger))
	}
	srv.RegisterRoutes(v1)
	return r
}

// Run initializes dependencies, starts the workers and serves the API until
// ctx is cancelled. An empty Redis address keeps tasks in memory.
func Run(ctx context.Context, s *config.Settings, log *slog.Logger) error {
	log = log.With("component", "api")
	gin.SetMode(gin.ReleaseMode)

	var (
		store TaskStore
		rdb   *redis.Client
	)
	if s.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: s.Redis.Addr, Password: s.Redis.Password, DB: s.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", s.Redis.Addr, err)
		}
		store = NewRedisStore(rdb)
	} else {
		log.Warn("No redis address configured, tasks are kept in memory")
		store = NewMemoryStore(memoryQueueDepth)
	}
	if s.Server.APIKey == "" {
		log.Warn("No api key configured, the scan endpoints are unauthenticated")
	}

	collector := metrics.NewCollector()
	opts, err := s.Scan.EngineOptions(log)
	if err != nil {
		return err
	}
	engine := scanner.NewEngine(append(opts, scanner.WithMetrics(collector))...)
	defaults, err := s.Scan.ScanConfig()
	if err != nil {
		return err
	}
	exclude, err := s.Scan.Exclusions()
	if err != nil {
		return err
	}

	ro := RouterOptions{
		Store:      store,
		Logger:     log,
		APIKey:     s.Server.APIKey,
		RateLimit:  s.Server.RateLimit,
		RateWindow: s.Server.RateWindow,
		Metrics:    metrics.Handler(metrics.NewRegistry(collector)),
	}
	if rdb != nil {
		ro.Redis = rdb
	}
	httpSrv := &http.Server{
		Addr:              s.Server.Addr,
		Handler:           NewRouter(ro),
		ReadHeaderTimeout: 10 * time.Second,
	}

	workCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		NewWorkerPool(store, engine, defaults, nil, log).Exclude(exclude).Run(workCtx, s.Workers)
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Starting Strobe API server", "addr", s.Server.Addr, "workers", s.Workers)
		serveErr <- httpSrv.ListenAndServe()
	}()

	select {
	case err = <-serveErr:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = httpSrv.Shutdown(shutdownCtx)
	}
	stopWorkers()
	wg.Wait()

	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	log.Info("API server stopped", "error", err)
	return err
}
