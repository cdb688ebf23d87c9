package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/auth"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/config"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/graph"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/push"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/resource"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/session"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/subscription"
)

// Identity is the authorization-code flow.
type Identity interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.Token, error)
}

// Subscriptions manages the signed-in user's subscriptions.
type Subscriptions interface {
	List(ctx context.Context, accessToken string) ([]graph.Subscription, error)
	CreateOrReplace(ctx context.Context, accessToken string, kind resource.Kind) (subscription.Result, error)
	Delete(ctx context.Context, accessToken, id string) error
	Renew(ctx context.Context, accessToken, id string) (graph.Subscription, error)
}

// Ingestor takes webhook bodies after they have been acknowledged.
type Ingestor interface {
	Accept(body []byte)
}

// Deps are the components the HTTP surface is wired to.
type Deps struct {
	Config        *config.Config
	Sessions      *session.Store
	Profiles      session.ProfileFetcher
	Identity      Identity
	Subscriptions Subscriptions
	Ingestor      Ingestor
	Registry      *push.Registry
	Log           zerolog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	cfg           *config.Config
	sessions      *session.Store
	profiles      session.ProfileFetcher
	identity      Identity
	subscriptions Subscriptions
	ingestor      Ingestor
	registry      *push.Registry
	log           zerolog.Logger
	now           func() time.Time
}

// New creates a server from its dependencies.
func New(d Deps) *Server {
	return &Server{
		cfg:           d.Config,
		sessions:      d.Sessions,
		profiles:      d.Profiles,
		identity:      d.Identity,
		subscriptions: d.Subscriptions,
		ingestor:      d.Ingestor,
		registry:      d.Registry,
		log:           d.Log.With().Str("component", "http").Logger(),
		now:           time.Now,
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(s.requestLogger(), s.recovery())

	r.GET("/healthz", s.healthz)

	a := r.Group("/auth")
	a.GET("/login", s.login)
	a.GET("/callback", s.callback)
	a.GET("/status", s.status)
	a.POST("/logout", s.logout)

	subs := r.Group("/subscriptions")
	subs.Use(s.requireSession())
	subs.GET("", s.listSubscriptions)
	subs.POST("/mail", s.createSubscription(resource.KindEmail))
	subs.POST("/teams", s.createSubscription(resource.KindTeams))
	subs.DELETE("/:id", s.deleteSubscription)
	subs.POST("/:id/renew", s.renewSubscription)

	r.POST("/webhook", s.webhook)
	r.GET("/events", s.events)

	if s.cfg.DebugEndpoints {
		r.POST("/debug/test-event", s.testEvent)
	}

	return r
}

// HTTPServer wraps the router in an http.Server listening on the configured port.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": s.registry.Len()})
}
