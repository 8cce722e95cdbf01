// Package security implements the thin auth and rate-limiting
// collaborators in front of the API surface: a login-plus-bearer-token
// scheme and a per-client rate limiter, neither of which is part of the
// core intent-to-enforcement pipeline.
package security

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/ibsfleet/controller/internal/logging"
)

// ValidRoles is the closed set of roles the bearer-token scheme recognizes.
var ValidRoles = map[string]bool{
	"viewer":   true,
	"operator": true,
	"admin":    true,
}

// Claims is the JWT claim set issued at login and checked on every
// subsequent API request.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	IAT    int64  `json:"iat"`
	EXP    int64  `json:"exp"`
}

// JWTHandler issues and validates HS256-signed bearer tokens for the API
// collaborator. It is not part of the enforcement core; intents and
// policies never carry a JWTHandler dependency.
type JWTHandler struct {
	secretKey string
	logger    *logging.Logger
}

// NewJWTHandler returns a handler signing with secretKey, which must be
// non-empty.
func NewJWTHandler(secretKey string, logger *logging.Logger) (*JWTHandler, error) {
	if strings.TrimSpace(secretKey) == "" {
		return nil, fmt.Errorf("security: secret key must be provided")
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &JWTHandler{secretKey: secretKey, logger: logger}, nil
}

// GenerateToken issues a token for userID/role, expiring after expiry.
func (h *JWTHandler) GenerateToken(userID, role string, expiry time.Duration) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("security: user id cannot be empty")
	}
	if !ValidRoles[role] {
		return "", fmt.Errorf("security: invalid role %q", role)
	}
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}

	now := time.Now().Unix()
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"iat":     now,
		"exp":     now + int64(expiry.Seconds()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(h.secretKey))
	if err != nil {
		return "", fmt.Errorf("security: sign token: %w", err)
	}

	h.logger.WithFields(logging.Fields{"user_id": userID, "role": role}).Debug("issued bearer token")
	return signed, nil
}

// ValidateToken parses and validates tokenString, restricting the
// signing algorithm to HS256 to prevent algorithm-confusion attacks.
func (h *JWTHandler) ValidateToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("security: token cannot be empty")
	}

	parsed, err := jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unsupported signing method: %v", t.Method.Alg())
		}
		return []byte(h.secretKey), nil
	})
	if err != nil {
		return nil, fmt.Errorf("security: validate token: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("security: invalid token claims")
	}

	role, _ := claims["role"].(string)
	if !ValidRoles[role] {
		return nil, fmt.Errorf("security: invalid role in token: %v", claims["role"])
	}
	userID, _ := claims["user_id"].(string)
	iat, _ := claims["iat"].(float64)
	exp, _ := claims["exp"].(float64)
	if time.Now().Unix() > int64(exp) {
		return nil, fmt.Errorf("security: token expired")
	}

	return &Claims{UserID: userID, Role: role, IAT: int64(iat), EXP: int64(exp)}, nil
}
