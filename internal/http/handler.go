package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"account-portal/internal/auth"
	"account-portal/internal/service"
)

const (
	// TokenCookieName is the cookie that carries the session token.
	TokenCookieName   = "access_token_cookie"
	flashCookieName   = "portal_session"
	identityKey       = "portal.identity"
	defaultUploadSize = 2<<20 + 64<<10
)

// Tokens issues and verifies session tokens.
type Tokens interface {
	Issue(identity string) (string, error)
	Verify(token string) (*auth.Claims, error)
	TTL() time.Duration
}

// Options configures cookies, logging and health reporting of the handler.
type Options struct {
	// SessionSecret signs the flash message cookie.
	SessionSecret  string
	CookieSecure   bool
	MaxUploadBytes int64
	Logger         *logrus.Logger
	Health         func(ctx context.Context) error
}

// Handler wires HTTP routes to the account service.
type Handler struct {
	users  service.UserService
	tokens Tokens
	opts   Options
	logger *logrus.Logger
}

func NewHandler(users service.UserService, tokens Tokens, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultUploadSize
	}
	return &Handler{
		users:  users,
		tokens: tokens,
		opts:   opts,
		logger: opts.Logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(loadTemplates())

	store := cookie.NewStore([]byte(h.opts.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	router.Use(requestLogger(h.logger))
	router.Use(sessions.Sessions(flashCookieName, store))

	router.GET("/", h.index)
	router.GET("/register", h.registerForm)
	router.POST("/register", h.register)
	router.GET("/login", h.loginForm)
	router.POST("/login", h.login)
	router.GET("/logout", h.logout)
	router.GET("/healthz", h.health)

	profile := router.Group("/profile", h.requireUser())
	{
		profile.GET("", h.profile)
		profile.POST("", h.updateProfile)
		profile.POST("/avatar", h.uploadAvatar)
	}
}

func (h *Handler) health(c *gin.Context) {
	if h.opts.Health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.opts.Health(ctx); err != nil {
			h.logger.WithError(err).Warn("health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
