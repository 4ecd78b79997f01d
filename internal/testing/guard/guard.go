// Package guard flips the runtime into test mode before any test in the
// importing package runs, so middleware side effects such as rate limiting
// stay out of the way. Import it for side effects only.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("GRIMOIRE_TEST_MODE") == "" {
			_ = os.Setenv("GRIMOIRE_TEST_MODE", "1")
		}
	})
}
