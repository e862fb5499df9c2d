package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/squadup-relay/internal/auth"
)

const (
	// ContextKeyUserID is the context key for storing user ID.
	ContextKeyUserID = "user_id"
	// ContextKeyUsername is the context key for storing username.
	ContextKeyUsername = "username"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

var (
	errBadAuthHeader = errors.New("invalid authorization header format")
	errMissingToken  = errors.New("missing authorization header")
)

type ctxKey struct{}

// bearerToken extracts the token from "Authorization: Bearer <token>".
// Browsers cannot set headers on websocket upgrades, so access_token is also
// accepted as a query parameter.
func bearerToken(r *http.Request) (string, error) {
	token := r.URL.Query().Get("access_token")
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return "", errBadAuthHeader
		}
		token = parts[1]
	}
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}

func authenticate(cfg *auth.JWTConfig, r *http.Request) (*auth.Claims, string, error) {
	token, err := bearerToken(r)
	if err != nil {
		return nil, err.Error(), err
	}
	claims, err := auth.ValidateToken(cfg, token)
	if err != nil {
		return nil, "invalid token", err
	}
	return claims, "", nil
}

// AuthMiddleware creates a gin middleware that validates JWT tokens.
func AuthMiddleware(cfg *auth.JWTConfig, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, reason, err := authenticate(cfg, c.Request)
		if err != nil {
			logger.Debug().Err(err).Msg("unauthorized request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: reason})
			return
		}

		c.Set(ContextKeyUserID, claims.UserID())
		c.Set(ContextKeyUsername, claims.Username)

		c.Next()
	}
}

// RequireToken is AuthMiddleware for plain handlers. Websocket endpoints use
// it because they must hijack a raw http.ResponseWriter.
func RequireToken(cfg *auth.JWTConfig, logger *zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, reason, err := authenticate(cfg, r)
		if err != nil {
			logger.Debug().Err(err).Str("path", r.URL.Path).Msg("unauthorized request")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: reason})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims)))
	})
}

// ClaimsFrom returns the claims stored by RequireToken.
func ClaimsFrom(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ctxKey{}).(*auth.Claims)
	return claims, ok
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}
