package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    status,
			"latency":   time.Since(start),
			"client_ip": c.ClientIP(),
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("request")
		case status >= http.StatusBadRequest:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}

// requireUser redirects to the login page unless the request carries a valid session token.
func (h *Handler) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := h.identity(c)
		if !ok {
			if _, err := c.Cookie(TokenCookieName); err == nil {
				h.clearTokenCookie(c)
			}
			c.Redirect(http.StatusFound, "/login")
			c.Abort()
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// identity returns the username claimed by a valid token cookie.
// Missing, malformed and expired tokens all read as anonymous.
func (h *Handler) identity(c *gin.Context) (string, bool) {
	raw, err := c.Cookie(TokenCookieName)
	if err != nil || raw == "" {
		return "", false
	}
	claims, err := h.tokens.Verify(raw)
	if err != nil {
		h.logger.WithError(err).Debug("rejecting session token")
		return "", false
	}
	return claims.Identity(), true
}

func (h *Handler) setTokenCookie(c *gin.Context, identity string) error {
	token, err := h.tokens.Issue(identity)
	if err != nil {
		return err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(TokenCookieName, token, int(h.tokens.TTL().Seconds()), "/", "", h.opts.CookieSecure, true)
	return nil
}

func (h *Handler) clearTokenCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(TokenCookieName, "", -1, "/", "", h.opts.CookieSecure, true)
}
