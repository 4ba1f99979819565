//go:build !grove_cgo
// +build !grove_cgo

package storage

// This file is compiled when building without the grove_cgo tag.
//
// Build command:
//   CGO_ENABLED=0 go build ./...
//
// The pure Go implementation requires no C compiler and cross-compiles
// cleanly, at some cost in raw write throughput.
//
// Driver used: modernc.org/sqlite

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
