package web

import "embed"

// Templates embeds the HTML templates used for document rendering.
//
//go:embed templates/pdf/*.html
var Templates embed.FS
