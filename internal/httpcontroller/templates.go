package httpcontroller

import (
	"bytes"
	"embed"
	"html/template"
	"io"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/turntable-streamer/internal/logger"
)

//go:embed views/*.html
var viewsFS embed.FS

// TemplateRenderer is a custom HTML template renderer for Echo framework.
type TemplateRenderer struct {
	templates *template.Template
	log       logger.Logger
}

// Render executes the named template into a buffer first so a failed execution never
// leaves a half written page.
func (t *TemplateRenderer) Render(w io.Writer, name string, data any, _ echo.Context) error {
	var buf bytes.Buffer
	if err := t.templates.ExecuteTemplate(&buf, name, data); err != nil {
		t.log.Error("template execution failed", logger.String("template", name), logger.Error(err))
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

// parseViews parses the embedded views with the template function set
func parseViews() (*template.Template, error) {
	return template.New("").Funcs(templateFunctions()).ParseFS(viewsFS, "views/*.html")
}

// setupTemplateRenderer configures the template renderer for the server
func (s *Server) setupTemplateRenderer() {
	// views are embedded at build time, so a parse error is a programming error
	tmpl := template.Must(parseViews())
	s.Echo.Renderer = &TemplateRenderer{templates: tmpl, log: s.log}
}
