package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"supportdesk.app/relay/common/logger"
)

const (
	SessionCookie     = "relay_sid"
	SessionHeader     = "X-Relay-Session"
	SessionQueryParam = "session"

	sessionKey = "session_id"
)

// SessionVerifier checks a signed session value.
type SessionVerifier interface {
	VerifySession(value string) (uuid.UUID, error)
}

// SignedSession returns the raw signed session value of the request: the
// cookie first, then the header, then the query parameter. Browsers that
// block third-party cookies use the latter two.
func SignedSession(c *gin.Context) string {
	if v, err := c.Cookie(SessionCookie); err == nil && v != "" {
		return v
	}
	if v := c.GetHeader(SessionHeader); v != "" {
		return v
	}
	return c.Query(SessionQueryParam)
}

// Session resolves the browser session and stores it on the context. Requests
// without a valid session are rejected with 401.
func Session(verifier SessionVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := verifier.VerifySession(SignedSession(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}

		c.Set(sessionKey, sessionID)
		ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{
			SessionID: logger.Ptr(sessionID.String()),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// SessionID returns the session stored by Session.
func SessionID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get(sessionKey); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}
