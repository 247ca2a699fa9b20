// Package guard forces test mode for packages that import it, so test runs
// never start background listeners or touch live infrastructure.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("CITADEL_TEST_MODE") == "" {
			_ = os.Setenv("CITADEL_TEST_MODE", "1")
		}
	})
}
