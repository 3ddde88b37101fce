// Package web embeds the browser client: dashboard page, push opt-in
// script, and the service worker.
package web

import (
	"embed"
	"io/fs"
)

//go:embed static
var content embed.FS

// Static returns the client files rooted at "/".
func Static() fs.FS {
	sub, err := fs.Sub(content, "static")
	if err != nil {
		// The embed path is fixed at compile time.
		panic(err)
	}
	return sub
}
