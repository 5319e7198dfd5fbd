//go:build !sqlite3_cgo

// The default build: a pure-Go, cgo-free sqlite driver so `go install
// github.com/vaultsync/vaultsync/cmd/vaultsyncd` keeps working without a C
// toolchain on the installing machine.
package db

import (
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const (
	driverID   = "ncruces/go-sqlite3"
	driverName = "sqlite3"
)
