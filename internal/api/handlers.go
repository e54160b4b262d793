package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"marketfeed/internal/cache"
	"marketfeed/models"
)

// Response sources.
const (
	SourceCache    = "cache"
	SourceFallback = "direct-fallback"
)

type priceResponse struct {
	Source string `json:"source"`
	models.TickerSnapshot
}

type orderBookResponse struct {
	Source string `json:"source"`
	models.OrderBookSnapshot
}

type statsResponse struct {
	Source string `json:"source"`
	models.WorkerStats
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handlePrice(c *gin.Context) {
	symbol := s.symbol(c)

	cached, err := cache.GetJSON[models.TickerSnapshot](c.Request.Context(), s.ticker)
	if s.usable(err, "ticker") && strings.EqualFold(cached.Symbol, symbol) {
		c.JSON(http.StatusOK, priceResponse{Source: SourceCache, TickerSnapshot: cached})
		return
	}

	if !s.allowFallback(c) {
		return
	}
	ctx, cancel := s.upstreamCtx(c)
	defer cancel()
	ticker, err := s.upstream.Ticker(ctx, symbol)
	if err != nil {
		s.upstreamError(c, "ticker", err)
		return
	}
	c.JSON(http.StatusOK, priceResponse{Source: SourceFallback, TickerSnapshot: ticker})
}

func (s *Server) handleOrderBook(c *gin.Context) {
	symbol := s.symbol(c)
	limit, ok := s.limit(c, s.cfg.DefaultLimit)
	if !ok {
		return
	}

	cached, err := cache.GetJSON[models.OrderBookSnapshot](c.Request.Context(), s.orderBook)
	if s.usable(err, "orderbook") && strings.EqualFold(cached.Symbol, symbol) {
		c.JSON(http.StatusOK, orderBookResponse{Source: SourceCache, OrderBookSnapshot: cached})
		return
	}

	if !s.allowFallback(c) {
		return
	}
	ctx, cancel := s.upstreamCtx(c)
	defer cancel()
	ob, err := s.upstream.OrderBook(ctx, symbol, limit)
	if err != nil {
		s.upstreamError(c, "orderbook", err)
		return
	}
	c.JSON(http.StatusOK, orderBookResponse{Source: SourceFallback, OrderBookSnapshot: ob})
}

func (s *Server) handleTrades(c *gin.Context) {
	n, ok := s.limit(c, int(s.trades.Capacity()))
	if !ok {
		return
	}
	trades, err := cache.RangeJSON[models.Trade](c.Request.Context(), s.trades, int64(n))
	if err != nil {
		s.cacheError(c, "trades", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"source": SourceCache, "trades": trades})
}

func (s *Server) handleKlines(c *gin.Context) {
	n, ok := s.limit(c, int(s.candles.Capacity()))
	if !ok {
		return
	}
	candles, err := cache.RangeJSON[models.Candle](c.Request.Context(), s.candles, int64(n))
	if err != nil {
		s.cacheError(c, "klines", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"source": SourceCache, "interval": "1m", "klines": candles})
}

func (s *Server) handleStats(c *gin.Context) {
	st, err := cache.GetJSON[models.WorkerStats](c.Request.Context(), s.stats)
	if errors.Is(err, cache.ErrMiss) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "worker stats not available"})
		return
	}
	if err != nil {
		s.cacheError(c, "stats", err)
		return
	}
	c.JSON(http.StatusOK, statsResponse{Source: SourceCache, WorkerStats: st})
}

func (s *Server) symbol(c *gin.Context) string {
	if v := strings.TrimSpace(c.Query("symbol")); v != "" {
		return strings.ToUpper(v)
	}
	return strings.ToUpper(s.cfg.DefaultSymbol)
}

// limit parses ?limit=, writing a 400 when it is not a positive integer.
func (s *Server) limit(c *gin.Context, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
		return 0, false
	}
	return n, true
}

// usable treats any cache failure as a miss; only a real error is logged.
func (s *Server) usable(err error, kind string) bool {
	if err == nil {
		return true
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.log.WithComponent("api").WithError(err).WithField("kind", kind).Warn("cache read failed; using fallback")
	}
	return false
}

func (s *Server) allowFallback(c *gin.Context) bool {
	if s.upstream == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "no cached data and no upstream configured"})
		return false
	}
	if !s.limiter.Allow() {
		c.JSON(http.StatusTooManyRequests, errorResponse{Error: "upstream rate limit exceeded"})
		return false
	}
	return true
}

func (s *Server) upstreamCtx(c *gin.Context) (context.Context, context.CancelFunc) {
	if s.cfg.UpstreamTimeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), s.cfg.UpstreamTimeout)
}

func (s *Server) upstreamError(c *gin.Context, kind string, err error) {
	s.log.WithComponent("api").WithError(err).WithField("kind", kind).Warn("upstream fallback failed")
	c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
}

func (s *Server) cacheError(c *gin.Context, kind string, err error) {
	s.log.WithComponent("api").WithError(err).WithField("kind", kind).Warn("cache read failed")
	c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
}
