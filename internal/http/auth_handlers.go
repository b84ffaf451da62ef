package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"account-portal/internal/service"
)

func (h *Handler) index(c *gin.Context) {
	if _, ok := h.identity(c); ok {
		c.Redirect(http.StatusFound, "/profile")
		return
	}
	c.Redirect(http.StatusFound, "/login")
}

// registerRecord echoes submitted fields back into the form. The password is never echoed.
type registerRecord struct {
	Username string
	Email    string
	Age      string
}

func (h *Handler) registerForm(c *gin.Context) {
	h.render(c, http.StatusOK, "register.html", gin.H{"record": registerRecord{}})
}

func (h *Handler) register(c *gin.Context) {
	in := service.RegisterInput{
		Username: c.PostForm("username"),
		Password: c.PostForm("password"),
		Email:    c.PostForm("email"),
		Age:      c.PostForm("age"),
	}

	_, err := h.users.Register(c.Request.Context(), in)
	var verr *service.ValidationError
	switch {
	case err == nil:
		h.redirectWithFlash(c, flashNotice, "Registration successful! You can now log in.", "/login")
	case errors.Is(err, service.ErrDuplicateUsername):
		h.redirectWithFlash(c, flashError, "Username already taken", "/register")
	case errors.Is(err, service.ErrDuplicateEmail):
		h.redirectWithFlash(c, flashError, "Email already in use", "/register")
	case errors.As(err, &verr):
		h.render(c, http.StatusBadRequest, "register.html", gin.H{
			"errors": validationMessages(verr),
			"record": registerRecord{Username: in.Username, Email: in.Email, Age: in.Age},
		})
	default:
		h.serverError(c, err)
	}
}

func (h *Handler) loginForm(c *gin.Context) {
	h.render(c, http.StatusOK, "login.html", nil)
}

func (h *Handler) login(c *gin.Context) {
	username := c.PostForm("username")
	user, err := h.users.Authenticate(c.Request.Context(), username, c.PostForm("password"))
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.render(c, http.StatusOK, "login.html", gin.H{"errors": []string{"Invalid credentials"}})
			return
		}
		h.serverError(c, err)
		return
	}

	if err := h.setTokenCookie(c, user.Username); err != nil {
		h.serverError(c, err)
		return
	}
	h.logger.WithField("user_id", user.ID).Info("user logged in")
	c.Redirect(http.StatusFound, "/profile")
}

// logout only forgets the cookie; a copied token stays valid until it expires.
func (h *Handler) logout(c *gin.Context) {
	h.clearTokenCookie(c)
	h.redirectWithFlash(c, flashNotice, "You have been logged out", "/login")
}
