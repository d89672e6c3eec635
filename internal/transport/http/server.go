// Package httpapi serves read-only engine state: the risk snapshot, open
// positions, archived trades and the audit tail. It never mutates engine
// state; every response reads a published snapshot or the store.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"optexec/internal/audit"
	"optexec/internal/engine"
	"optexec/internal/logger"
	"optexec/internal/store"
)

// Server wraps the gin router.
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig carries the server's dependencies.
type ServerConfig struct {
	Addr   string
	Engine *engine.Engine
	Store  *store.Store
	Audit  *audit.Log
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil || cfg.Store == nil || cfg.Audit == nil {
		return nil, errors.New("http server requires engine, store and audit")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9985"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	api.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, cfg.Engine.Snapshot())
	})
	api.GET("/positions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"positions": cfg.Engine.Snapshot().Positions})
	})
	api.GET("/trades", func(c *gin.Context) {
		since := time.Now().Add(-24 * time.Hour)
		if raw := c.Query("since"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
				return
			}
			since = t
		}
		trades, err := cfg.Store.TradesSince(c.Request.Context(), since)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"trades": trades})
	})
	api.GET("/audit", func(c *gin.Context) {
		limit := 100
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > 1000 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be 1..1000"})
				return
			}
			limit = n
		}
		events, err := cfg.Audit.Tail(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	})

	return &Server{addr: cfg.Addr, router: router}, nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		c.Next()
		logger.Debugf("HTTP %s %s status=%d dur=%s", method, path, c.Writer.Status(), time.Since(start))
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
