package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hearth-security/hearth-server/internal/apperr"
	"github.com/hearth-security/hearth-server/internal/config"
)

const (
	issuer           = "hearth"
	internalAudience = "hearth-internal"
)

// JWTManager manages user JWT tokens
type JWTManager struct {
	config *config.JWTConfig
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(cfg *config.JWTConfig) *JWTManager {
	return &JWTManager{
		config: cfg,
	}
}

// Claims represents user JWT claims
type Claims struct {
	jwt.RegisteredClaims
	UserID  uuid.UUID  `json:"user_id"`
	SpaceID *uuid.UUID `json:"space_id,omitempty"`
	IsAdmin bool       `json:"is_admin"`
}

// CanAccessSpace reports whether the caller may act on spaceID
func (c *Claims) CanAccessSpace(spaceID uuid.UUID) bool {
	if c.IsAdmin {
		return true
	}
	return c.SpaceID != nil && *c.SpaceID == spaceID
}

// GenerateToken generates an access token for a user
func (m *JWTManager) GenerateToken(userID uuid.UUID, spaceID *uuid.UUID, isAdmin bool) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
		UserID:  userID,
		SpaceID: spaceID,
		IsAdmin: isAdmin,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.config.Secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}

	return signed, nil
}

// ValidateToken validates a token
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, hmacKey(m.config.Secret))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", apperr.ErrUnauthorized)
	}

	return claims, nil
}

// ServiceAuth issues and checks the short-lived bearer tokens used between
// the gateway and the application server. Both sides hold the same secret.
type ServiceAuth struct {
	secret []byte
	ttl    time.Duration
}

// NewServiceAuth creates a service authenticator
func NewServiceAuth(cfg *config.InternalConfig) *ServiceAuth {
	return &ServiceAuth{
		secret: []byte(cfg.Secret),
		ttl:    cfg.TokenTTL,
	}
}

// GenerateServiceToken signs a token identifying the calling service
func (a *ServiceAuth) GenerateServiceToken(service string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   service,
		Audience:  jwt.ClaimStrings{internalAudience},
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    issuer,
		ID:        uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}

	return signed, nil
}

// ValidateServiceToken returns the calling service name
func (a *ServiceAuth) ValidateServiceToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, hmacKey(string(a.secret)),
		jwt.WithAudience(internalAudience), jwt.WithIssuer(issuer))
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("%w: invalid service token", apperr.ErrUnauthorized)
	}

	return claims.Subject, nil
}

func hmacKey(secret string) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}
}

// ========== Middleware ==========

type contextKey int

const (
	claimsKey contextKey = iota
	serviceKey
)

// BearerToken extracts the token from an Authorization header
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("%w: missing authorization header", apperr.ErrUnauthorized)
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", fmt.Errorf("%w: invalid authorization header", apperr.ErrUnauthorized)
	}

	return parts[1], nil
}

// UserMiddleware rejects requests without a valid user token and stores the
// claims in the request context
func UserMiddleware(m *JWTManager, onError func(http.ResponseWriter, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := BearerToken(r)
			if err != nil {
				onError(w, err)
				return
			}

			claims, err := m.ValidateToken(token)
			if err != nil {
				onError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ServiceMiddleware rejects requests without a valid service token
func ServiceMiddleware(a *ServiceAuth, onError func(http.ResponseWriter, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := BearerToken(r)
			if err != nil {
				onError(w, err)
				return
			}

			service, err := a.ValidateServiceToken(token)
			if err != nil {
				onError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), serviceKey, service)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the user claims stored by UserMiddleware
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}

// ServiceFromContext returns the calling service stored by ServiceMiddleware
func ServiceFromContext(ctx context.Context) (string, bool) {
	service, ok := ctx.Value(serviceKey).(string)
	return service, ok
}
