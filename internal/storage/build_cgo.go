//go:build grove_cgo
// +build grove_cgo

package storage

// This file is compiled when building with CGO and the grove_cgo tag.
//
// Build command:
//   CGO_ENABLED=1 go build -tags grove_cgo ./...
//
// The CGO driver is the fastest option for large graphs and is recommended
// for long-running watch deployments.
//
// Driver used: github.com/mattn/go-sqlite3

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
