package api

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static
var staticFiles embed.FS

var staticFS = mustSub(staticFiles, "static")

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

// servePanel renders the control panel page.
func servePanel(w http.ResponseWriter, r *http.Request) {
	http.ServeFileFS(w, r, staticFS, "index.html")
}

func serveStatic(w http.ResponseWriter, r *http.Request) {
	http.StripPrefix("/static/", http.FileServerFS(staticFS)).ServeHTTP(w, r)
}
