package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("LEDGERLINK_TEST_MODE", "1")
	})
}

func init() {
	ensureTestMode()
}

// TestMain flips the test-mode flag so binaries under test skip startup side
// effects. Import this package for its side effect from packages whose tests
// touch runtime wiring.
func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
