package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// operatorClaims are the JWT claims carried by operator tokens.
type operatorClaims struct {
	Actor string `json:"actor"`
	jwt.RegisteredClaims
}

// OperatorAuth issues and verifies short-lived operator tokens for the
// control surface: degradation transitions, kill switch, period locks,
// chain appends. Tokens are minted against a bcrypt-hashed admin secret.
type OperatorAuth struct {
	signingKey      []byte
	adminSecretHash []byte // bcrypt hash; empty = token minting disabled
	tokenTTL        time.Duration
	logger          *zap.Logger
}

// NewOperatorAuth creates an OperatorAuth. adminSecretHash is the bcrypt
// hash of the shared operator secret; pass nil to disable minting.
func NewOperatorAuth(signingKey, adminSecretHash []byte, tokenTTL time.Duration, logger *zap.Logger) *OperatorAuth {
	if tokenTTL == 0 {
		tokenTTL = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperatorAuth{
		signingKey:      signingKey,
		adminSecretHash: adminSecretHash,
		tokenTTL:        tokenTTL,
		logger:          logger,
	}
}

// Mint exchanges the admin secret for an operator token naming the actor.
func (a *OperatorAuth) Mint(secret, actor string) (string, error) {
	if len(a.adminSecretHash) == 0 {
		return "", errDisabled
	}
	if err := bcrypt.CompareHashAndPassword(a.adminSecretHash, []byte(secret)); err != nil {
		return "", errBadSecret
	}

	now := time.Now()
	claims := operatorClaims{
		Actor: actor,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
			Issuer:    "ledgercore",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.signingKey)
}

// Verify parses and validates an operator token, returning the actor.
func (a *OperatorAuth) Verify(tokenStr string) (string, error) {
	var claims operatorClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errBadToken
		}
		return a.signingKey, nil
	})
	if err != nil {
		return "", err
	}
	return claims.Actor, nil
}

// RequireOperator is a Gin middleware gating the operator routes. The
// authenticated actor is stored in the context under "operator_actor"; a
// failure here is an authorization failure (401), deliberately distinct
// from an admission shed (429/503).
func (a *OperatorAuth) RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "operator token required"})
			return
		}
		actor, err := a.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid operator token"})
			return
		}
		c.Set("operator_actor", actor)
		c.Next()
	}
}

// operatorActor returns the authenticated actor set by RequireOperator.
func operatorActor(c *gin.Context) string {
	if actor, ok := c.Get("operator_actor"); ok {
		if s, ok := actor.(string); ok {
			return s
		}
	}
	return "unknown"
}
