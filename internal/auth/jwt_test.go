package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testConfig() *JWTConfig {
	return &JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "squadup",
		Audience: "authenticated",
		TTL:      time.Hour,
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	cfg := testConfig()

	token, err := GenerateToken(cfg, "u1", "ana")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ValidateToken(cfg, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID() != "u1" || claims.Username != "ana" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	cfg := testConfig()

	other := *cfg
	other.Secret = []byte("other-secret")
	wrongSecret, _ := GenerateToken(&other, "u1", "ana")

	wrongAud := *cfg
	wrongAud.Audience = "anon"
	wrongAudience, _ := GenerateToken(&wrongAud, "u1", "ana")

	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString(cfg.Secret)

	noSubject, _ := GenerateToken(cfg, "", "ana")

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", wrongSecret},
		{"wrong audience", wrongAudience},
		{"expired", expired},
		{"no subject", noSubject},
		{"garbage", "not-a-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ValidateToken(cfg, tt.token); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestIdentityFromToken(t *testing.T) {
	token, err := GenerateToken(testConfig(), "u1", "ana")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := IdentityFromToken(token)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if claims.UserID() != "u1" || claims.Username != "ana" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := IdentityFromToken("not-a-token"); err == nil {
		t.Fatal("expected error for garbage token")
	}
}
