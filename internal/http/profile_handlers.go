package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"account-portal/internal/domain"
	"account-portal/internal/service"
)

type profileView struct {
	Username  string
	Email     string
	Age       string
	AvatarURL string
	Since     string
}

func (h *Handler) currentIdentity(c *gin.Context) string {
	return c.GetString(identityKey)
}

func (h *Handler) profile(c *gin.Context) {
	user, err := h.users.Profile(c.Request.Context(), h.currentIdentity(c))
	if err != nil {
		h.profileLookupFailed(c, err)
		return
	}

	avatarURL, err := h.users.AvatarURL(c.Request.Context(), user)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", user.ID).Warn("presign avatar url")
	}

	h.render(c, http.StatusOK, "profile.html", gin.H{
		"user":           newProfileView(user, avatarURL),
		"avatarsEnabled": h.users.AvatarsEnabled(),
	})
}

func (h *Handler) updateProfile(c *gin.Context) {
	identity := h.currentIdentity(c)
	in := service.ProfileInput{
		Username: c.PostForm("username"),
		Email:    c.PostForm("email"),
		Age:      c.PostForm("age"),
	}

	user, err := h.users.UpdateProfile(c.Request.Context(), identity, in)
	var verr *service.ValidationError
	switch {
	case err == nil:
	case errors.Is(err, service.ErrDuplicateUsername):
		h.redirectWithFlash(c, flashError, "This username is already taken", "/profile")
		return
	case errors.Is(err, service.ErrDuplicateEmail):
		h.redirectWithFlash(c, flashError, "This email is already in use", "/profile")
		return
	case errors.As(err, &verr):
		h.redirectWithFlash(c, flashError, "Profile not updated: "+verr.Error(), "/profile")
		return
	default:
		h.profileLookupFailed(c, err)
		return
	}

	// the token names the account by username, so a rename needs a fresh one
	if user.Username != identity {
		if err := h.setTokenCookie(c, user.Username); err != nil {
			h.serverError(c, err)
			return
		}
	}
	h.redirectWithFlash(c, flashNotice, "Profile updated successfully!", "/profile")
}

func (h *Handler) uploadAvatar(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes)

	header, err := c.FormFile("avatar")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.redirectWithFlash(c, flashError, "Avatar is too large", "/profile")
			return
		}
		h.redirectWithFlash(c, flashError, "Choose an image to upload", "/profile")
		return
	}

	file, err := header.Open()
	if err != nil {
		h.serverError(c, err)
		return
	}
	defer file.Close()

	_, err = h.users.UpdateAvatar(c.Request.Context(), h.currentIdentity(c), service.AvatarUpload{
		Filename: header.Filename,
		Size:     header.Size,
		Body:     file,
	})
	var verr *service.ValidationError
	switch {
	case err == nil:
		h.redirectWithFlash(c, flashNotice, "Avatar updated", "/profile")
	case errors.Is(err, service.ErrAvatarsDisabled):
		h.redirectWithFlash(c, flashError, "Avatar uploads are not available", "/profile")
	case errors.As(err, &verr):
		h.redirectWithFlash(c, flashError, "Avatar not updated: "+verr.Error(), "/profile")
	default:
		h.profileLookupFailed(c, err)
	}
}

// profileLookupFailed sends accounts that no longer exist back to the login page and reports everything else as a server error.
func (h *Handler) profileLookupFailed(c *gin.Context, err error) {
	if errors.Is(err, service.ErrUserNotFound) {
		h.clearTokenCookie(c)
		c.Redirect(http.StatusFound, "/login")
		return
	}
	h.serverError(c, err)
}

func newProfileView(user *domain.User, avatarURL string) profileView {
	view := profileView{
		Username:  user.Username,
		Email:     user.EmailValue(),
		AvatarURL: avatarURL,
		Since:     user.CreatedAt.Format("2006-01-02"),
	}
	if user.Age != nil {
		view.Age = strconv.Itoa(*user.Age)
	}
	return view
}
