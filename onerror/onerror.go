// Package onerror centralizes how the CLI driver reports a fatal
// error before converting it into the process exit code (0 on
// success, -1 on any argument, I/O or compilation error).
package onerror

import (
	"fmt"
	"os"
)

// Log prints err to stderr, prefixed by msg, and returns true if err
// was non-nil. Callers use the return value to decide whether to
// os.Exit(-1); Log itself never exits so the driver keeps control of
// cleanup (closing output sinks) on the way out.
func Log(msg string, err error) bool {
	if err == nil {
		return false
	}
	fmt.Fprintf(os.Stderr, "%s%s\n", msg, err)
	return true
}
