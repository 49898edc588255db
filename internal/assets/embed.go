// Package assets embeds the landing page template served at /.
package assets

import (
	"embed"
	"html/template"
)

//go:embed index.html
var files embed.FS

var indexTemplate = template.Must(template.ParseFS(files, "index.html"))

// IndexTemplate returns the parsed landing page template. It renders with
// a single field, LoggedIn, so the client knows whether a session exists.
func IndexTemplate() *template.Template {
	return indexTemplate
}
