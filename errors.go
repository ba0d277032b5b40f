package tbman

import (
	"fmt"
	"os"
	"runtime"
)

// fail prints a diagnostic line in the form
//
//	error in function F (FILE:LINE):
//	<message>
//
// to stderr and terminates the process. Every invariant violation,
// configuration mistake, OS allocation failure, invalid free, and use of
// the singleton before Open is routed through fail: none of these are
// recoverable, and letting a caller panic/recover past a corrupted
// invariant would just postpone the crash to somewhere harder to debug.
func fail(format string, args ...any) {
	funcName, file, line := callerInfo(2)
	fmt.Fprintf(os.Stderr, "error in function %s (%s:%d):\n", funcName, file, line)
	fmt.Fprintf(os.Stderr, format, args...)
	fmt.Fprintln(os.Stderr)
	os.Exit(2)
}

func callerInfo(skip int) (funcName, file string, line int) {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown", "unknown", 0
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown", file, line
	}
	name := fn.Name()
	if idx := lastIndexByte(name, '.'); idx >= 0 {
		name = name[idx+1:]
	}
	return name, file, line
}

func lastIndexByte(s string, c byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == c {
			return i
		}
	}
	return -1
}
