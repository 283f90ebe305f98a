package api

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/taskpilot-ai/conversational-client/pkg/logger"
)

// expirySlack treats a token this close to expiry as already absent, so a
// turn started now does not lose its credential mid-stream.
const expirySlack = 60 * time.Second

// Credential holds the bearer token issued by the external identity provider.
// The client never verifies the signature; it only decodes the claims to
// learn the subject and expiry.
type Credential struct {
	token     string
	userID    string
	expiresAt time.Time
	logger    *logger.Logger

	warnOnce sync.Once
}

// NewCredential decodes the token claims. An empty or undecodable token
// produces a guest credential.
func NewCredential(token string, log *logger.Logger) *Credential {
	c := &Credential{token: token, logger: log}
	if token == "" {
		return c
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		log.Warn("credential is not a decodable JWT, treating session as guest", zap.Error(err))
		c.token = ""
		return c
	}
	if sub, err := claims.GetSubject(); err == nil {
		c.userID = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		c.expiresAt = exp.Time
	}
	return c
}

// Token returns the raw bearer token, or empty for guests.
func (c *Credential) Token() string {
	if !c.Valid() {
		return ""
	}
	return c.token
}

// UserID returns the token subject, or empty for guests.
func (c *Credential) UserID() string {
	return c.userID
}

// Valid reports whether the credential exists and is not about to expire.
func (c *Credential) Valid() bool {
	if c.token == "" {
		return false
	}
	if !c.expiresAt.IsZero() && time.Until(c.expiresAt) < expirySlack {
		c.warnOnce.Do(func() {
			c.logger.Warn("credential expired or expiring, falling back to guest session",
				zap.Time("expires_at", c.expiresAt))
		})
		return false
	}
	return true
}
