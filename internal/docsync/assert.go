//go:build !docsync_debug

package docsync

// assertf reports a broken internal invariant. Release builds only log the
// failure at the call site; docsync_debug builds panic.
func assertf(format string, args ...any) {}
