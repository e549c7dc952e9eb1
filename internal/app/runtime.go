package app

import (
	"os"
	"sync/atomic"
)

const testModeEnv = "STOCKSYNC_TEST_MODE"

var testModeFlag atomic.Pointer[bool]

// InTestMode reports whether binaries should skip connecting to Postgres, Redis,
// the ERP and the shop. The flag is read once and cached.
func InTestMode() bool {
	if v := testModeFlag.Load(); v != nil {
		return *v
	}
	return RefreshTestMode()
}

// RefreshTestMode re-reads the flag after environment changes.
func RefreshTestMode() bool {
	v := os.Getenv(testModeEnv) == "1"
	testModeFlag.Store(&v)
	return v
}
