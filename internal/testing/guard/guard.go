package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("AULA_TEST_MODE") == "" {
			_ = os.Setenv("AULA_TEST_MODE", "1")
		}
	})
}
