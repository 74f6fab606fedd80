package web

import (
	"embed"
	"io/fs"
	"net/http"
)

// staticFS holds a minimal landing page describing the API; sitterd
// ships no built SPA the way the teacher's embedded React frontend
// does, so this is the teacher's embed-for-serving idiom applied to a
// plain informational page instead of a bundled frontend/dist/ build.
//
//go:embed static/*
var staticFS embed.FS

func staticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}
