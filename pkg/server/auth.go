package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims holds the JWT claims for a staff session on the web API.
type Claims struct {
	Account string `json:"account"`
	jwt.RegisteredClaims
}

// AuthService issues and validates bearer tokens bound to a services
// account.
type AuthService struct {
	jwtKey []byte
	expiry time.Duration
	now    func() time.Time
}

// ErrNoSecret is returned when issuing a token without a configured
// secret; such a token would not survive a restart.
var ErrNoSecret = errors.New("auth: jwt_secret is not configured")

// NewAuthService creates an auth service. If jwtSecret is empty, a random
// 32-byte key is generated.
func NewAuthService(jwtSecret string, expirySeconds int) *AuthService {
	var key []byte
	if jwtSecret != "" {
		key = []byte(jwtSecret)
	} else {
		key = make([]byte, 32)
		rand.Read(key)
	}
	expiry := 24 * time.Hour
	if expirySeconds > 0 {
		expiry = time.Duration(expirySeconds) * time.Second
	}
	return &AuthService{jwtKey: key, expiry: expiry, now: time.Now}
}

// Issue returns a signed token for account.
func (a *AuthService) Issue(account string) (string, error) {
	if account == "" {
		return "", fmt.Errorf("auth: empty account")
	}
	now := a.now()
	claims := Claims{
		Account: account,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
			Issuer:    "gochanserv",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtKey)
}

// IssueWithSecret is Issue for offline use (the token subcommand),
// where a random key would be useless.
func IssueWithSecret(secret string, expirySeconds int, account string) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	return NewAuthService(secret, expirySeconds).Issue(account)
}

// ValidateToken parses and validates a JWT token string.
func (a *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtKey, nil
	}, jwt.WithTimeFunc(a.now), jwt.WithIssuer("gochanserv"))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Account == "" {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// GenerateJWTSecret generates a random hex-encoded secret suitable for jwt_secret config.
func GenerateJWTSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
