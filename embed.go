// Package binsort carries the embedded dashboard assets. Production builds
// of cmd/binsort serve these; dev mode reads ./static from disk instead so
// the dashboard can be edited without rebuilding.
package binsort

import "embed"

// StaticFiles holds the station dashboard.
//
//go:embed static
var StaticFiles embed.FS
