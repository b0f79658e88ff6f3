package visualizer

import (
	"bytes"
	"embed"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed templates/style.css
var stylesheet string

var fragments = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Stylesheet returns the CSS the built-in fragments are written against.
func Stylesheet() template.CSS { return template.CSS(stylesheet) }

// execute renders a named fragment. html/template escapes every string field, so
// values reach the page as literal text.
func execute(name string, data any) (template.HTML, error) {
	var buf bytes.Buffer
	if err := fragments.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}
