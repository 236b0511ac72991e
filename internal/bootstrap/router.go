package bootstrap

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zamapoll/backend/internal/middleware"
	"github.com/zamapoll/backend/internal/polls"
	"github.com/zamapoll/backend/internal/voting"
	"github.com/zamapoll/backend/pkg/response"
)

// NewRouter builds the gin engine with middleware and all routes.
func NewRouter(app *App, logger *zap.Logger) (*gin.Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := app.Config.Server

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))

	router.NoRoute(func(c *gin.Context) { response.NotFound(c, "not found") })

	pollHandler := polls.NewHandler(app.Store, logger.Named("polls"))
	votingHandler := voting.NewHandler(app.Workflow, logger.Named("voting"))

	router.GET("/health", health(app))

	router.POST("/polls", votingHandler.CreatePoll)
	router.GET("/polls/:id", pollHandler.Get)
	router.GET("/polls/:id/results", pollHandler.Results)
	router.POST("/polls/:id/votes", votingHandler.CastVote)
	router.GET("/votes/confirm/:token", votingHandler.Confirm)

	return router, nil
}

func health(app *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if app.Backends.Ping != nil {
			if err := app.Backends.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, response.Body{Error: "database unavailable"})
				return
			}
		}
		response.OK(c, gin.H{"status": "ok"})
	}
}
