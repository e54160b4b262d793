package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	appconfig "marketfeed/config"
	"marketfeed/internal/cache"
	"marketfeed/logger"
)

const shutdownTimeout = 5 * time.Second

// Server is the read side of the cache: it answers from Redis and falls back
// to the exchange REST API when the worker has nothing fresh.
type Server struct {
	cfg      appconfig.APIConfig
	log      *logger.Log
	upstream Upstream
	limiter  *rate.Limiter

	ticker    *cache.Slot
	orderBook *cache.Slot
	stats     *cache.Slot
	trades    *cache.List
	candles   *cache.List

	httpServer *http.Server
}

func NewServer(cfg *appconfig.Config, client redis.UniversalClient, upstream Upstream) *Server {
	apiCfg := cfg.API
	apiCfg.Address = normalizeAddress(apiCfg.Address)
	if apiCfg.DefaultSymbol == "" {
		apiCfg.DefaultSymbol = "BTCUSDT"
	}
	if apiCfg.DefaultLimit <= 0 {
		apiCfg.DefaultLimit = 50
	}

	limit := rate.Limit(apiCfg.RequestsPerSec)
	if apiCfg.RequestsPerSec <= 0 {
		limit = rate.Inf
	}
	burst := apiCfg.Burst
	if burst <= 0 {
		burst = 1
	}

	ttl := cfg.Redis.TTL
	capacity := cfg.Redis.ListCapacity
	return &Server{
		cfg:       apiCfg,
		log:       logger.GetLogger(),
		upstream:  upstream,
		limiter:   rate.NewLimiter(limit, burst),
		ticker:    cache.NewSlot(client, cache.KeyTicker, ttl),
		orderBook: cache.NewSlot(client, cache.KeyOrderBook, ttl),
		stats:     cache.NewSlot(client, cache.KeyWorkerStats, ttl),
		trades:    cache.NewList(client, cache.KeyTrades, capacity),
		candles:   cache.NewList(client, cache.KeyKlines, capacity),
	}
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	return s.cfg.Address
}

// Run serves until ctx is cancelled, then shuts down with a bounded grace
// period.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.WithComponent("api").WithField("address", s.cfg.Address).Info("api server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Handler builds the gin router.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/price", s.handlePrice)
	api.GET("/orderbook", s.handleOrderBook)
	api.GET("/trades", s.handleTrades)
	api.GET("/klines", s.handleKlines)
	api.GET("/stats", s.handleStats)

	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithComponent("api").WithFields(logger.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("request")
	}
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8080"
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		if ip := net.ParseIP(addr); ip != nil || !strings.Contains(addr, ":") {
			return net.JoinHostPort(addr, "8080")
		}
		return addr
	}
	if host == "" || host == "*" {
		host = "0.0.0.0"
	}
	if port == "" {
		port = "8080"
	}
	return net.JoinHostPort(host, port)
}
