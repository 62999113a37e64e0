package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Routes are the handlers mounted by SetupRoutes. Nil members are skipped.
type Routes struct {
	WebSocket http.Handler
	Metrics   http.Handler
	// API mounts the REST endpoints on the /api group.
	API func(rg *gin.RouterGroup)
}

// SetupRoutes builds the gin engine with health, websocket, test page,
// metrics and API routes.
func SetupRoutes(r Routes) *gin.Engine {
	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(gin.Recovery(), requestLogger())

	engine.GET("/", gin.WrapF(HealthHandler))
	engine.GET("/health", gin.WrapF(HealthHandler))
	engine.GET("/test", gin.WrapF(TestPageHandler))

	if r.WebSocket != nil {
		engine.Any("/ws", gin.WrapH(r.WebSocket))
	}
	if r.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(r.Metrics))
	}
	if r.API != nil {
		r.API(engine.Group("/api"))
	}

	return engine
}
