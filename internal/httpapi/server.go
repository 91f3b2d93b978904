// Package httpapi is the agent's inbound boundary: push messages arrive
// here, browsers register their windows and push subscriptions here, and
// notification clicks call back here to get a routing decision.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"trainpush/internal/agent"
	"trainpush/internal/clients"
	"trainpush/internal/storage"
	logx "trainpush/pkg/logx"
)

type Config struct {
	Addr string // default ":8090"

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Token bucket for POST /v1/push.
	PushRatePerSec int // default 10
	PushBurst      int // default 20

	MaxBodyBytes int64 // default 64 KiB

	// HistoryLimit caps GET /v1/history responses. Default 50.
	HistoryLimit int
}

type Deps struct {
	Agent    *agent.Agent
	Registry *clients.Registry
	Store    storage.Store // may be nil (storage disabled)

	VAPIDPublicKey string

	Log logx.Logger
}

type Server struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	engine  *gin.Engine
	limiter *rate.Limiter

	mu  sync.Mutex
	ln  net.Listener
	srv *http.Server
}

func New(cfg Config, deps Deps) *Server {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8090"
	}
	if cfg.PushRatePerSec <= 0 {
		cfg.PushRatePerSec = 10
	}
	if cfg.PushBurst <= 0 {
		cfg.PushBurst = 2 * cfg.PushRatePerSec
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 * 1024
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		log:     deps.Log,
		limiter: rate.NewLimiter(rate.Limit(cfg.PushRatePerSec), cfg.PushBurst),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())
	s.register(r)
	s.engine = r
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) register(r *gin.Engine) {
	r.GET("/healthz", s.handleHealth)

	api := r.Group("/v1")
	{
		api.POST("/push", s.handlePush)
		api.POST("/clicks", s.handleClick)

		api.GET("/clients", s.handleListClients)
		api.POST("/clients", s.handleRegisterClient)
		api.PATCH("/clients/:id", s.handleNavigateClient)
		api.DELETE("/clients/:id", s.handleRemoveClient)

		api.GET("/vapid-key", s.handleVAPIDKey)
		api.POST("/subscriptions", s.handlePutSubscription)
		api.DELETE("/subscriptions", s.handleDeleteSubscription)

		api.GET("/history", s.handleHistory)
	}
}

func (s *Server) Start(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.ln = ln
	s.srv = srv

	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped with error", logx.Err(err))
		}
	}()

	s.log.Info("http api started", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	ln := s.ln
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()

	if srv == nil {
		return
	}
	if ln != nil {
		defer func() { _ = ln.Close() }()
	}
	_ = srv.Shutdown(ctx)
	_ = srv.Close()
	s.log.Info("http api stopped")
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		// Health checks are noisy; keep them at trace.
		level := s.log.Debug
		if strings.HasPrefix(c.Request.URL.Path, "/healthz") {
			level = s.log.Trace
		}
		level("http request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)))
	}
}
