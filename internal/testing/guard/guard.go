package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("WCATTACH_TEST_MODE") == "" {
			_ = os.Setenv("WCATTACH_TEST_MODE", "1")
		}
	})
}
