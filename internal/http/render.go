package http

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"sort"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"account-portal/internal/service"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	flashError  = "error"
	flashNotice = "notice"
)

func loadTemplates() *template.Template {
	return template.Must(template.New("").ParseFS(templateFS, "templates/*.html"))
}

// render executes a page template with the pending flash messages.
// Extra messages can be passed in data["errors"] as a []string.
func (h *Handler) render(c *gin.Context, status int, name string, data gin.H) {
	if data == nil {
		data = gin.H{}
	}

	session := sessions.Default(c)
	errs := flashStrings(session.Flashes(flashError))
	notices := flashStrings(session.Flashes(flashNotice))
	if len(errs)+len(notices) > 0 {
		if err := session.Save(); err != nil {
			h.logger.WithError(err).Warn("save flash session")
		}
	}
	if extra, ok := data["errors"].([]string); ok {
		errs = append(errs, extra...)
	}
	data["errors"] = errs
	data["notices"] = notices

	c.HTML(status, name, data)
}

// redirectWithFlash stores a one-shot message and redirects with 302.
func (h *Handler) redirectWithFlash(c *gin.Context, kind, message, location string) {
	session := sessions.Default(c)
	session.AddFlash(message, kind)
	if err := session.Save(); err != nil {
		h.logger.WithError(err).Warn("save flash session")
	}
	c.Redirect(http.StatusFound, location)
}

func (h *Handler) serverError(c *gin.Context, err error) {
	h.logger.WithError(err).WithFields(logrus.Fields{
		"method": c.Request.Method,
		"path":   c.Request.URL.Path,
	}).Error("request failed")
	c.HTML(http.StatusInternalServerError, "error.html", gin.H{
		"status":  http.StatusInternalServerError,
		"message": "Something went wrong on our side. Please try again later.",
	})
}

func flashStrings(values []interface{}) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, fmt.Sprint(v))
	}
	return out
}

// validationMessages flattens field errors into sorted "field: message" lines.
func validationMessages(err *service.ValidationError) []string {
	out := make([]string, 0, len(err.Fields))
	for field, msg := range err.Fields {
		out = append(out, field+": "+msg)
	}
	sort.Strings(out)
	return out
}
