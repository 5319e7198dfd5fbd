// Package statusserver implements the local, read-only status HTTP
// endpoint: a history tail, pending-operation count, and websocket
// connection state, bound to localhost and bearer-token protected.
// Grounded on the teacher's control-plane pattern
// (OpenMined-syftbox/internal/client/controlplane*.go), trimmed to a
// single GET /v1/status endpoint since spec §6 names no other
// control-plane surface.
package statusserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/vaultsync/vaultsync/internal/vaultclient"
	"github.com/vaultsync/vaultsync/internal/version"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// Config configures the status server.
type Config struct {
	// Addr is the listen address, expected to be loopback-only
	// (e.g. "127.0.0.1:7938").
	Addr  string
	Token string
}

// Server is the local status HTTP server.
type Server struct {
	httpServer *http.Server
	addr       string
}

// New builds a Server bound to config.Addr, serving the given client's
// status.
func New(config Config, client *vaultclient.Client) (*Server, error) {
	if host, _, err := net.SplitHostPort(config.Addr); err == nil && host != "" && host != "127.0.0.1" && host != "localhost" {
		return nil, fmt.Errorf("statusserver: refusing non-loopback bind address %q", config.Addr)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET"},
		AllowHeaders:    []string{"Authorization", "Content-Type"},
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	rateLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Second, Limit: 10})
	r.Use(mgin.NewMiddleware(rateLimiter))

	v1 := r.Group("/v1")
	v1.Use(tokenAuth(config.Token))
	v1.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, client.Status())
	})

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"version": version.Detailed()})
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              config.Addr,
			Handler:           r.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		addr: config.Addr,
	}, nil
}

// Handler returns the underlying HTTP handler, useful for tests that want
// to drive the server without binding a real socket.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving until Stop is called or the listener errors.
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("statusserver: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
