// Package web embeds the dashboard UI assets.
package web

import (
	"embed"
	"io/fs"
)

//go:embed all:dist
var distFS embed.FS

// Assets returns the embedded UI filesystem rooted at dist/, so files
// are accessed directly (e.g. "index.html", not "dist/index.html").
func Assets() (fs.FS, error) {
	return fs.Sub(distFS, "dist")
}
