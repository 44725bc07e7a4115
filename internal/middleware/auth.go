package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"secure-message-service/internal/domain"
	"secure-message-service/pkg/httputil"
)

// Claims はアクセストークンのクレーム。sub がアクターID。
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenService はHS256トークンの発行と検証を行う。
type TokenService struct {
	signingKey []byte
	issuer     string
}

// NewTokenService は新しいTokenServiceを生成する。
func NewTokenService(signingKey, issuer string) *TokenService {
	return &TokenService{signingKey: []byte(signingKey), issuer: issuer}
}

// IssueToken はアクターのトークンを発行する。
func (s *TokenService) IssueToken(actorID string, role domain.Role, expiresIn time.Duration) (string, error) {
	if actorID == "" {
		return "", fmt.Errorf("%w: empty actor id", domain.ErrInvalidInput)
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseToken はトークンを検証してアクターを解決する。
func (s *TokenService) ParseToken(tokenString string) (domain.Actor, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return domain.Actor{}, domain.ErrUnauthenticated
	}

	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
	}
	return domain.Actor{ID: claims.Subject, Role: role}, nil
}

type contextKeyActor struct{}

// WithActor は ctx にアクターを格納する。
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, contextKeyActor{}, actor)
}

// ActorFromContext は認証済みのアクターを取り出す。
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(contextKeyActor{}).(domain.Actor)
	return actor, ok
}

// RequireAuth はBearerトークンを検証し、アクターをコンテキストに設定する。
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				slog.WarnContext(ctx, "unauthorized access - missing token", "path", r.URL.Path)
				httputil.Error(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing or invalid Authorization header")
				return
			}

			actor, err := tokens.ParseToken(token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, jwt.ErrTokenExpired) {
					msg = "token has expired"
				}
				slog.WarnContext(ctx, "unauthorized access - invalid token", "path", r.URL.Path, "error", err)
				httputil.Error(w, http.StatusUnauthorized, "UNAUTHENTICATED", msg)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(ctx, actor)))
		})
	}
}
