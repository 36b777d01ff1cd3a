// Package dbmigrations exposes embedded SQL migrations for vivbliss-watch binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into vivbliss-watch binaries.
//
//go:embed *.sql
var Files embed.FS
