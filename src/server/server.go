package server

import (
	"fmt"
	"net"
	"net/http"
	"regexp"
	"time"

	"coinwatch/src/admission"
	"coinwatch/src/analysis"
	"coinwatch/src/config"
	"coinwatch/src/helpers"
	"coinwatch/src/interfaces"
	"coinwatch/src/logger"
	"coinwatch/src/models"
	"coinwatch/src/store"

	"github.com/gin-gonic/gin"
)

// symbolPattern is enforced before any cache or upstream access.
var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)

func validateSymbol(symbol string) error {
	if !symbolPattern.MatchString(symbol) {
		return &helpers.ValidationError{
			CoinwatchError: helpers.CoinwatchError{Message: "invalid symbol"},
		}
	}
	return nil
}

// CycleStats reports recent refresh cycle durations for the status endpoint.
type CycleStats interface {
	RecentCycleMillis() []float64
}

// -----------------------------------------------------------------------------
// CoinwatchServer
// -----------------------------------------------------------------------------

type CoinwatchServer struct {
	Config  *models.MConfig
	Logger  *logger.Entry
	engine  *gin.Engine
	httpSrv *http.Server

	Hub     *Hub
	Store   *store.StateStore
	Limiter *admission.RateLimiter
	Breaker *admission.CircuitBreaker
	Prices  interfaces.IPriceLookup
	Cycles  CycleStats
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewCoinwatchServer(
	cfg *models.MConfig,
	log *logger.Log,
	hub *Hub,
	st *store.StateStore,
	limiter *admission.RateLimiter,
	breaker *admission.CircuitBreaker,
	prices interfaces.IPriceLookup,
	cycles CycleStats,
) *CoinwatchServer {
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &CoinwatchServer{
		Config:  cfg,
		Logger:  log.WithComponent("server"),
		engine:  gin.New(),
		Hub:     hub,
		Store:   st,
		Limiter: limiter,
		Breaker: breaker,
		Prices:  prices,
		Cycles:  cycles,
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(s.admissionMiddleware())
	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------
// Admission Middleware
// -----------------------------------------------------------------------------

// admissionMiddleware runs before any parsing or business logic: blacklist
// membership first, then rate accounting, then the progressive slowdown.
func (s *CoinwatchServer) admissionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		decision := s.Limiter.Check(c.ClientIP())

		if decision.Forbidden {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		if !decision.Allowed {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		if decision.Delay > 0 {
			select {
			case <-c.Request.Context().Done():
				c.Abort()
				return
			case <-time.After(decision.Delay):
			}
		}

		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *CoinwatchServer) setupRoutes() {
	s.engine.GET("/api/coins", s.getCoins)
	s.engine.GET("/api/coins/:symbol", s.getCoinDetail)
	s.engine.GET("/api/status", s.getStatus)
	s.engine.GET("/api/health", s.getHealth)

	// Push endpoints
	s.engine.GET("/api/stream", s.handleStream)
	s.engine.GET("/ws", s.handleWebSocket)
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

func (s *CoinwatchServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.Logger.WithFields(logger.Fields{"addr": addr}).Info("starting server")

	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}

	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *CoinwatchServer) Stop() error {
	if s.httpSrv != nil {
		return s.httpSrv.Close()
	}
	return nil
}

// Engine exposes the router for handler tests.
func (s *CoinwatchServer) Engine() *gin.Engine {
	return s.engine
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *CoinwatchServer) getCoins(c *gin.Context) {
	snapshot := s.Store.Current()

	c.JSON(http.StatusOK, gin.H{
		"coins":      snapshot,
		"count":      len(snapshot),
		"lastUpdate": s.Store.LastUpdate(),
	})
}

// -----------------------------------------------------------------------------

// getCoinDetail merges the cached metrics with a one-off realtime price and a
// short recent price history. Price lookup failures leave those fields null,
// mirroring the partial-tolerance policy of the fetcher.
func (s *CoinwatchServer) getCoinDetail(c *gin.Context) {
	symbol := c.Param("symbol")
	if err := validateSymbol(symbol); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	metrics, ok := s.Store.Get(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol"})
		return
	}

	response := gin.H{
		"metrics": metrics,
		"price":   nil,
		"history": nil,
		"stats":   nil,
	}

	if s.Prices != nil {
		ctx := c.Request.Context()
		if ticker, err := s.Prices.Ticker(ctx, symbol); err == nil {
			response["price"] = ticker
		} else {
			s.logInternal("ticker lookup failed", err)
		}
		if history, err := s.Prices.RecentPrices(ctx, symbol, 24); err == nil {
			response["history"] = history
			if summary := analysis.Summarize(history); summary != nil {
				response["stats"] = summary
			}
		} else {
			s.logInternal("price history lookup failed", err)
		}
	}

	c.JSON(http.StatusOK, response)
}

// -----------------------------------------------------------------------------

// getStatus is restricted to loopback origins.
func (s *CoinwatchServer) getStatus(c *gin.Context) {
	ip := net.ParseIP(c.ClientIP())
	if ip == nil || !ip.IsLoopback() {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	status := gin.H{
		"blacklist_size":     s.Limiter.BlacklistSize(),
		"active_connections": s.Hub.ActiveCount(),
		"circuit_state":      s.Breaker.State().String(),
		"system_memory_mb":   helpers.GetTotalSystemMemoryMB(),
	}
	if s.Cycles != nil {
		status["recent_cycle_millis"] = s.Cycles.RecentCycleMillis()
	}
	c.JSON(http.StatusOK, status)
}

// -----------------------------------------------------------------------------

func (s *CoinwatchServer) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"connections":   s.Hub.ActiveCount(),
		"latest_update": s.Store.LastUpdate(),
	})
}

// -----------------------------------------------------------------------------

// logInternal keeps internal error detail out of production logs at info
// level and entirely out of client responses.
func (s *CoinwatchServer) logInternal(msg string, err error) {
	if config.IsProductionLike(config.AppEnvironment()) {
		s.Logger.Warn(msg)
		return
	}
	s.Logger.WithError(err).Warn(msg)
}
