package auth

import (
    "context"
    "fmt"
    "time"

    "github.com/golang-jwt/jwt/v5"
    "github.com/google/uuid"

    "github.com/lorawan-server/lorawan-server-pro/internal/config"
    "github.com/lorawan-server/lorawan-server-pro/internal/models"
    "github.com/lorawan-server/lorawan-server-pro/pkg/crypto"
)

// ctxKey is an unexported type so values this package stores in a
// context can't collide with keys set by other packages.
type ctxKey int

const claimsCtxKey ctxKey = 0

// WithClaims returns a context carrying claims, for the auth middleware
// to attach after a token validates.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
    return context.WithValue(ctx, claimsCtxKey, claims)
}

// ClaimsFromContext returns the claims the auth middleware attached to
// ctx, or nil if the request reached the handler unauthenticated.
func ClaimsFromContext(ctx context.Context) *Claims {
    claims, _ := ctx.Value(claimsCtxKey).(*Claims)
    return claims
}

// JWTManager manages JWT tokens
type JWTManager struct {
    config *config.JWTConfig
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(cfg *config.JWTConfig) *JWTManager {
    return &JWTManager{
        config: cfg,
    }
}

// Claims represents JWT claims
type Claims struct {
    jwt.RegisteredClaims
    UserID   uuid.UUID  `json:"user_id"`
    Email    string     `json:"email"`
    IsAdmin  bool       `json:"is_admin"`
    TenantID *uuid.UUID `json:"tenant_id,omitempty"`
}

// GenerateTokenPair generates access and refresh tokens
func (m *JWTManager) GenerateTokenPair(user *models.User) (string, string, error) {
    // Access token
    accessClaims := Claims{
        RegisteredClaims: jwt.RegisteredClaims{
            Subject:   user.ID.String(),
            ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.config.AccessTokenTTL)),
            IssuedAt:  jwt.NewNumericDate(time.Now()),
            NotBefore: jwt.NewNumericDate(time.Now()),
            Issuer:    "lorawan-server",
        },
        UserID:   user.ID,
        Email:    user.Email,
        IsAdmin:  user.IsAdmin,
        TenantID: user.TenantID,
    }
    
    accessToken := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims)
    accessTokenString, err := accessToken.SignedString([]byte(m.config.Secret))
    if err != nil {
        return "", "", fmt.Errorf("sign access token: %w", err)
    }
    
    // Refresh token
    refreshClaims := jwt.RegisteredClaims{
        Subject:   user.ID.String(),
        ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.config.RefreshTokenTTL)),
        IssuedAt:  jwt.NewNumericDate(time.Now()),
        NotBefore: jwt.NewNumericDate(time.Now()),
        Issuer:    "lorawan-server",
        ID:        uuid.New().String(),
    }
    
    refreshToken := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims)
    refreshTokenString, err := refreshToken.SignedString([]byte(m.config.Secret))
    if err != nil {
        return "", "", fmt.Errorf("sign refresh token: %w", err)
    }
    
    return accessTokenString, refreshTokenString, nil
}

// ValidateToken validates a token
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
    token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
        if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
            return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
        }
        return []byte(m.config.Secret), nil
    })
    
    if err != nil {
        return nil, err
    }
    
    claims, ok := token.Claims.(*Claims)
    if !ok || !token.Valid {
        return nil, fmt.Errorf("invalid token")
    }
    
    return claims, nil
}

// ValidateRefreshToken validates a refresh token and returns the user ID it
// was issued for. The caller is responsible for reloading the user (so its
// current Email/IsAdmin/TenantID, not a stale snapshot, ends up in the new
// access token) and calling GenerateTokenPair.
func (m *JWTManager) ValidateRefreshToken(refreshTokenString string) (uuid.UUID, error) {
    token, err := jwt.ParseWithClaims(refreshTokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
        if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
            return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
        }
        return []byte(m.config.Secret), nil
    })

    if err != nil {
        return uuid.UUID{}, err
    }

    claims, ok := token.Claims.(*jwt.RegisteredClaims)
    if !ok || !token.Valid {
        return uuid.UUID{}, fmt.Errorf("invalid refresh token")
    }

    userID, err := uuid.Parse(claims.Subject)
    if err != nil {
        return uuid.UUID{}, fmt.Errorf("invalid user ID in token")
    }

    return userID, nil
}

// VerifyPassword verifies a password against a hash
func (m *JWTManager) VerifyPassword(password, hash string) bool {
    return crypto.VerifyPassword(password, hash)
}
