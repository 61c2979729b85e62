/*
Package auth issues and verifies the bearer tokens that identify workflow
actors.

TOKEN SHAPE:
  HS256-signed JWT carrying the actor identity the policy layer needs:
  user id, role and branch. The token is the only identity source; handlers
  never trust ids from request bodies.

SEE ALSO:
  - auth/middleware.go: Request middleware that turns a token into an Actor
  - workflow/policy.go: What the Actor is allowed to do
*/
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/replenishment-engine/workflow"
)

const issuer = "replenishment-engine"

// Claims is the JWT payload for an authenticated actor.
type Claims struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	BranchID string `json:"branch_id,omitempty"`
	jwt.RegisteredClaims
}

// Actor converts the claims into the identity the workflow layer consumes.
func (c *Claims) Actor() workflow.Actor {
	return workflow.Actor{
		ID:       c.UserID,
		Role:     workflow.Role(c.Role),
		BranchID: c.BranchID,
	}
}

// TokenService signs and verifies actor tokens.
type TokenService struct {
	secret []byte
	expiry time.Duration
}

// NewTokenService creates a token service with the given HMAC secret and
// token lifetime.
func NewTokenService(secret string, expiry time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), expiry: expiry}
}

// Generate signs a token for the given actor.
func (s *TokenService) Generate(actor workflow.Actor) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   actor.ID,
		Role:     string(actor.Role),
		BranchID: actor.BranchID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   actor.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token string, returning its claims.
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
