package app

import (
	"os"
	"strconv"
	"sync"
)

const testModeEnv = "CMS_TEST_MODE"

// InTestMode reports whether CMS_TEST_MODE is set, in which case the binaries
// return before dialing Postgres or Redis. The variable is read once.
var InTestMode = sync.OnceValue(func() bool {
	return testModeFrom(os.Getenv)
})

func testModeFrom(getenv func(string) string) bool {
	on, err := strconv.ParseBool(getenv(testModeEnv))
	return err == nil && on
}
