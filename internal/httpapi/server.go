// Package httpapi implements the HTTP / JSON-RPC Surface: a single /rpc
// path handling POST (submit), GET (SSE subscribe), and DELETE (close),
// plus a closed set of server-owned `_sandboxagent/…` extension methods.
package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kandev/acp-gateway/internal/common/logger"
	"github.com/kandev/acp-gateway/internal/config"
	"github.com/kandev/acp-gateway/internal/proxy"
	"github.com/kandev/acp-gateway/internal/session"
)

// Server wires the proxy and session layers onto a gin.Engine.
type Server struct {
	log     *logger.Logger
	cfg     *config.Config
	proxy   *proxy.Runtime
	session *session.Manager
	engine  *gin.Engine
}

// New builds a Server and registers its routes.
func New(log *logger.Logger, cfg *config.Config, proxyRuntime *proxy.Runtime, sessionMgr *session.Manager) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{log: log, cfg: cfg, proxy: proxyRuntime, session: sessionMgr, engine: engine}

	engine.Use(s.corsMiddleware())
	engine.GET("/health", s.handleHealth)

	rpc := engine.Group("/rpc")
	rpc.Use(s.authMiddleware())
	rpc.POST("", s.handlePost)
	rpc.GET("", s.handleGet)
	rpc.DELETE("", s.handleDelete)
	rpc.GET("/sessions/:sessionId", s.handleSessionGet)

	return s
}

// Engine exposes the underlying gin.Engine for http.ListenAndServe.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	origins := s.cfg.CORSAllowOrigins
	methods := strings.Join(s.cfg.CORSAllowMethods, ", ")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && originAllowed(origins, origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-ACP-Connection-Id, Last-Event-ID")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return len(allowed) == 0
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AuthToken == "" {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != s.cfg.AuthToken {
			writeProblem(c, http.StatusUnauthorized, "Unauthorized", "Unauthorized", "missing or invalid bearer token")
			return
		}
		c.Next()
	}
}
