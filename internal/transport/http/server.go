package http

import (
	"fmt"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/handlers"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/squadup-relay/internal/auth"
	"github.com/vovakirdan/squadup-relay/internal/config"
	"github.com/vovakirdan/squadup-relay/internal/core"
	"github.com/vovakirdan/squadup-relay/internal/service/messages"
	"github.com/vovakirdan/squadup-relay/internal/store"
)

// InsertFeed is the persistence notifier as seen by the realtime endpoint.
type InsertFeed interface {
	Subscribe(roomID string, fn func(*store.Message)) (unsubscribe func())
}

// NewServer builds the HTTP server: relay websocket, realtime feed and store API.
func NewServer(hub *core.Hub, svc *messages.Service, feed InsertFeed, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	}
	accept := acceptOptions(cfg.AllowedOrigins, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	msgHandlers := NewMessageHandlers(svc, logger)
	api := router.Group("/api", AuthMiddleware(jwtConfig, logger))
	api.GET("/rooms/:roomID/messages", msgHandlers.History)
	api.POST("/rooms/:roomID/messages", msgHandlers.Send)
	api.POST("/rooms/:roomID/participants", msgHandlers.Join)
	api.DELETE("/rooms/:roomID/participants", msgHandlers.Leave)
	api.PUT("/profile", msgHandlers.UpdateProfile)

	cors := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{stdhttp.MethodGet, stdhttp.MethodPost, stdhttp.MethodPut, stdhttp.MethodDelete, stdhttp.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
		handlers.AllowCredentials(),
	)

	// Websocket endpoints hijack the connection, which gin's writer refuses
	// once headers are flushed, so they stay on the plain mux.
	mux := stdhttp.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.Handle("GET /ws", NewWSHandler(hub, cfg, accept, logger))
	mux.Handle("GET /realtime/rooms/{roomID}",
		RequireToken(jwtConfig, logger, NewRealtimeHandler(feed, cfg.ClientBuffer, accept, logger)))
	mux.Handle("/", cors(router))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
	_, _ = fmt.Fprint(w, "ok")
}
