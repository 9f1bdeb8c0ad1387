// Package gateway exposes the HTTP surface: chat completions with SSE
// streaming, model listing, usage reporting and health.
package gateway

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"modelgate/internal/memory"
	"modelgate/internal/provider"
	"modelgate/internal/quota"
	"modelgate/internal/ratelimit"
	"modelgate/internal/relay"
	"modelgate/internal/router"
)

// Server wires the routing, relay, quota and memory layers behind the
// HTTP handlers.
type Server struct {
	router   *router.Router
	registry *provider.Registry
	relay    *relay.Relay
	gate     *quota.Gate
	store    *memory.Store
	pool     *relay.Pool
	limiter  *ratelimit.Limiter
	auth     *Authenticator
	log      *logrus.Logger
}

type Options struct {
	Router    *router.Router
	Registry  *provider.Registry
	Relay     *relay.Relay
	Gate      *quota.Gate
	Store     *memory.Store
	Pool      *relay.Pool
	Limiter   *ratelimit.Limiter
	JWTSecret string
	Log       *logrus.Logger
}

func NewServer(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		router:   opts.Router,
		registry: opts.Registry,
		relay:    opts.Relay,
		gate:     opts.Gate,
		store:    opts.Store,
		pool:     opts.Pool,
		limiter:  opts.Limiter,
		auth:     NewAuthenticator(opts.JWTSecret),
		log:      log,
	}
}

// Routes builds the gin engine with all endpoints registered.
func (s *Server) Routes() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(s.auth.Middleware())

	engine.GET("/health", s.handleHealth)

	v1 := engine.Group("/v1")
	v1.GET("/models", s.handleModels)
	v1.GET("/usage", s.handleUsage)

	chat := v1.Group("/chat")
	if s.limiter != nil {
		chat.Use(ratelimit.Middleware(s.limiter, func(c *gin.Context) string {
			return UserID(c)
		}))
	}
	chat.POST("/completions", s.handleChatCompletions)

	return engine
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}
