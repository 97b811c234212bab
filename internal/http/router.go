package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/trentmillar/keystone-net/internal/config"
	"github.com/trentmillar/keystone-net/internal/http/handler"
	httpmiddleware "github.com/trentmillar/keystone-net/internal/http/middleware"
	"github.com/trentmillar/keystone-net/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, oauthHandler *handler.OAuthHandler, authMiddleware *httpmiddleware.Auth, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/.well-known/openid-configuration", oauthHandler.OpenIDConfig)
	r.GET("/.well-known/jwks.json", oauthHandler.JWKS)

	oauth := r.Group("/oauth")
	{
		oauth.POST("/token", oauthHandler.Token)
		oauth.GET("/authorize", authMiddleware.ValidateJWT, oauthHandler.Authorize)
		oauth.POST("/revoke", oauthHandler.Revoke)
		oauth.POST("/introspect", oauthHandler.Introspect)
		oauth.POST("/logout", oauthHandler.Logout)
	}

	return r
}
