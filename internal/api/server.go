package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"breakout-trading-bot/config"
	"breakout-trading-bot/internal/engine"
	"breakout-trading-bot/internal/events"
	"breakout-trading-bot/internal/logging"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RateLimiter provides simple in-memory rate limiting per key
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// EngineAPI is what the server needs from the trading engine
type EngineAPI interface {
	IngestSignal(sig engine.Signal)
	Snapshot() engine.EngineSnapshot
}

// Server is the HTTP surface: signal webhook, status API, WebSocket stream
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	engineAPI   EngineAPI
	eventBus    *events.EventBus
	hub         *WSHub
	config      config.ServerConfig
	rateLimiter *RateLimiter
	logger      *logging.Logger
}

// NewServer creates the API server and wires its routes
func NewServer(cfg config.ServerConfig, engineAPI EngineAPI, eventBus *events.EventBus, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "" || cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Webhook-Secret"}
	router.Use(cors.New(corsConfig))

	rpm := cfg.WebhookRPM
	if rpm <= 0 {
		rpm = 120
	}

	server := &Server{
		router:      router,
		engineAPI:   engineAPI,
		eventBus:    eventBus,
		hub:         NewWSHub(logger),
		config:      cfg,
		rateLimiter: NewRateLimiter(rpm, time.Minute),
		logger:      logger.WithComponent("api"),
	}

	server.setupRoutes()
	go server.hub.Run()

	// Snapshot broadcasts fan out to every connected WebSocket client
	eventBus.Subscribe(events.EventEngineSnapshot, server.hub.BroadcastEvent)

	return server
}

func (s *Server) setupRoutes() {
	s.router.POST("/webhook", s.rateLimitMiddleware(), s.handleWebhook)

	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/status", s.handleStatus)
	}

	s.router.GET("/ws", s.handleWebSocket)
}

// rateLimitMiddleware limits webhook posts per client IP
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"ws_clients": s.hub.GetClientCount(),
		"timestamp":  time.Now().UnixMilli(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engineAPI.Snapshot())
}

func (s *Server) handleWebSocket(c *gin.Context) {
	s.hub.ServeWS(c.Writer, c.Request)
}

// Start runs the HTTP server until it fails or is shut down
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
	}

	s.logger.Info("api server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
