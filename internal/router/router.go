package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/junothreadborne/ListenRoom/internal/handler"
	"github.com/junothreadborne/ListenRoom/internal/metrics"
	"github.com/junothreadborne/ListenRoom/pkg/constants"
)

// New builds the HTTP router.
func New(
	sessionHandler *handler.SessionHandler,
	sessionWS *handler.SessionWSHandler,
	health *handler.HealthHandler,
	stats *metrics.Metrics,
) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET(constants.PathHealth, health.Health)
	r.GET(constants.PathReady, health.Ready)
	if stats != nil {
		r.GET(constants.PathMetrics, gin.WrapH(stats.Handler()))
	}

	// REST sessions
	sessions := r.Group("/sessions")
	{
		sessions.POST("", sessionHandler.CreateSession)
		sessions.GET("/:id", sessionHandler.GetSession)
		sessions.DELETE("/:id", sessionHandler.DeleteSession)
		sessions.GET("/:id/participants", sessionHandler.GetSessionParticipants)
	}

	// WebSocket coordination channel
	r.GET(constants.PathWSSession, sessionWS.ServeWS)

	return r
}
