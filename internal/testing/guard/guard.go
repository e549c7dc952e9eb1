// Package guard switches binaries into test mode when imported by a test, so
// main packages can be exercised without Postgres, Redis or upstream APIs.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("STOCKSYNC_TEST_MODE") == "" {
			_ = os.Setenv("STOCKSYNC_TEST_MODE", "1")
		}
	})
}
