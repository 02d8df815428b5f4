package web

import "embed"

// StaticFS embeds the web shell: index page, manifest and scripts.
//
//go:embed static
var StaticFS embed.FS
