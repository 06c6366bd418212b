package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"wa-gateway-lite/internal/auth"
	"wa-gateway-lite/internal/handler"
	"wa-gateway-lite/internal/hub"
	"wa-gateway-lite/internal/middleware"
	"wa-gateway-lite/internal/session"
	"wa-gateway-lite/internal/socketio"
)

type Deps struct {
	Manager     *session.Manager
	Hub         *hub.Hub
	TokenConfig auth.TokenConfig
	Logger      zerolog.Logger
	// SendRateLimit is the number of sends allowed per client and session
	// each minute. Zero uses the default of 60.
	SendRateLimit int
	// MediaRoute and MediaDir serve filesystem blobs when both are set.
	MediaRoute string
	MediaDir   string
}

// NewRouter builds the HTTP API. The returned stop func releases the
// router's background work and disconnects socket.io clients.
func NewRouter(deps Deps) (*gin.Engine, func()) {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	if deps.MediaRoute != "" && deps.MediaDir != "" {
		r.Static(deps.MediaRoute, deps.MediaDir)
	}

	limit := deps.SendRateLimit
	if limit <= 0 {
		limit = 60
	}
	sendLimiter := middleware.NewRateLimiter(limit, time.Minute)

	sessionHandler := &handler.SessionHandler{Sessions: deps.Manager}
	messageHandler := &handler.MessageHandler{Messages: deps.Manager}
	wsHandler := &handler.WebSocketHandler{
		Hub:         deps.Hub,
		Sessions:    deps.Manager,
		TokenConfig: deps.TokenConfig,
		Logger:      deps.Logger,
	}

	sio := socketio.NewServer(socketio.Deps{
		Sessions:    deps.Manager,
		TokenConfig: deps.TokenConfig,
		Logger:      deps.Logger,
	})
	deps.Hub.Attach(sio)

	// Realtime endpoints authenticate on their own handshake.
	r.GET("/v1/ws", wsHandler.Serve)
	r.GET("/socket.io/", gin.WrapH(sio))

	protected := r.Group("/v1")
	protected.Use(middleware.RequireAuth(deps.TokenConfig))
	protected.POST("/sessions", sessionHandler.Start)
	protected.GET("/sessions", sessionHandler.List)

	scoped := protected.Group("/sessions/:id")
	scoped.Use(middleware.RequireSessionScope("id"))
	scoped.GET("", sessionHandler.Get)
	scoped.GET("/qr", sessionHandler.QR)
	scoped.DELETE("", sessionHandler.Stop)
	scoped.GET("/messages", messageHandler.History)
	scoped.POST("/messages", middleware.RateLimitMiddleware(sendLimiter, middleware.SessionClientKey("id")), messageHandler.Send)

	stop := func() {
		sendLimiter.Close()
		sio.Close()
	}
	return r, stop
}
