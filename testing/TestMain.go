// Package testing forces test mode for packages that import it for side
// effects, so entrypoints never dial PostgreSQL or Redis under go test.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("ODYSSEY_TEST_MODE", "1")
		if os.Getenv("PRICING_CACHE_ENABLED") == "" {
			_ = os.Setenv("PRICING_CACHE_ENABLED", "false")
		}
	})
}

func init() {
	ensureTestMode()
}

// TestMain may be delegated to from a package's own TestMain.
func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
