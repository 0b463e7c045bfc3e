//go:build docsync_debug

package docsync

import "fmt"

func assertf(format string, args ...any) {
	panic(fmt.Sprintf(format, args...))
}
