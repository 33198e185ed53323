// Package web holds the birthday page served at /.
package web

import "embed"

// FS contains index.html and the assets/ directory.
//
//go:embed index.html assets
var FS embed.FS
