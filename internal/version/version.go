// Package version implements helper functions for the stored version.
package version

import (
	"fmt"
	"runtime"
)

// Probe version (e.g. "1.4.0"), injected via LDFLAGS
var Version = "dev"

func UserAgent() string {
	return fmt.Sprintf("TestProbe/%s (%s, %s)", Version, runtime.GOOS, runtime.GOARCH)
}
