package utils

import "github.com/denisbrodbeck/machineid"

// HWID is a stable, anonymized-by-hashing machine identifier sent as a
// header on change-log RPCs so the remote can correlate requests from the
// same client instance across restarts without relying on IP or user
// agent. Resolution failure (sandboxed or exotic platforms) degrades to a
// random id rather than blocking startup.
var HWID = resolveHWID()

func resolveHWID() string {
	id, err := machineid.ProtectedID("vaultsync")
	if err != nil || id == "" {
		random, genErr := RandBase34(16)
		if genErr != nil {
			return "unknown"
		}
		return random
	}
	return id
}
