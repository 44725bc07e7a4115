package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"secure-message-service/internal/domain"
)

const testSecret = "test-secret-test-secret-test-secret"

func TestTokenService_RoundTrip(t *testing.T) {
	tokens := NewTokenService(testSecret, "secure-message-service")

	signed, err := tokens.IssueToken("router-1", domain.RoleRouter, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	actor, err := tokens.ParseToken(signed)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if actor.ID != "router-1" || actor.Role != domain.RoleRouter {
		t.Errorf("unexpected actor: %+v", actor)
	}
}

func TestTokenService_Rejects(t *testing.T) {
	tokens := NewTokenService(testSecret, "secure-message-service")

	expired, err := tokens.IssueToken("user-1", domain.RoleUser, -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	otherIssuer, err := NewTokenService(testSecret, "someone-else").IssueToken("user-1", domain.RoleUser, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	otherKey, err := NewTokenService("another-secret-another-secret-xx", "secure-message-service").IssueToken("user-1", domain.RoleUser, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: "ADMIN",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "secure-message-service",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing failed: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"wrong issuer", otherIssuer},
		{"wrong key", otherKey},
		{"unknown role", badRole},
		{"garbage", "not-a-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tokens.ParseToken(tt.token); !errors.Is(err, domain.ErrUnauthenticated) {
				t.Errorf("want ErrUnauthenticated, got %v", err)
			}
		})
	}
}

func TestTokenService_LegacyRoleAlias(t *testing.T) {
	tokens := NewTokenService(testSecret, "secure-message-service")
	signed, err := tokens.IssueToken("ca-1", domain.Role("CA"), time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	actor, err := tokens.ParseToken(signed)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if actor.Role != domain.RoleAuthority {
		t.Errorf("want AUTHORITY, got %s", actor.Role)
	}
}

func TestRequireAuth(t *testing.T) {
	tokens := NewTokenService(testSecret, "secure-message-service")
	valid, err := tokens.IssueToken("user-1", domain.RoleUser, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	var got domain.Actor
	handler := RequireAuth(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid token", "Bearer " + valid, http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"missing bearer prefix", valid, http.StatusUnauthorized},
		{"bearer only", "Bearer ", http.StatusUnauthorized},
		{"invalid token", "Bearer invalid-token", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("want status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}

	if got.ID != "user-1" || got.Role != domain.RoleUser {
		t.Errorf("unexpected actor in context: %+v", got)
	}
}
