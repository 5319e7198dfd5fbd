//go:build cgo && sqlite3_cgo

// Opt into this build with -tags sqlite3_cgo when cgo is available and the
// faster, battle-tested mattn driver is preferred over the pure-Go one.
package db

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	driverID   = "mattn/go-sqlite3"
	driverName = "sqlite3"
)
