package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vovakirdan/squadup-relay/internal/auth"
	"github.com/vovakirdan/squadup-relay/internal/log"
)

func TestRequireToken(t *testing.T) {
	cfg := &auth.JWTConfig{Secret: []byte("s"), TTL: time.Hour}
	token, err := auth.GenerateToken(cfg, "u1", "ana")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	var seen string
	h := RequireToken(cfg, log.Nop(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := ClaimsFrom(r.Context()); ok {
			seen = claims.UserID()
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		target string
		header string
		status int
	}{
		{"missing", "/x", "", http.StatusUnauthorized},
		{"bad scheme", "/x", "Basic abc", http.StatusUnauthorized},
		{"bad token", "/x", "Bearer nope", http.StatusUnauthorized},
		{"header", "/x", "Bearer " + token, http.StatusNoContent},
		{"query", "/x?access_token=" + token, "", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusNoContent {
				assert.Equal(t, "u1", seen)
			} else {
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}
