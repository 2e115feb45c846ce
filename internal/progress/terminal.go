package progress

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/term"
)

// IsTerminal reports whether f is attached to a terminal. Bars are only
// drawn when it is; otherwise plain lines are printed.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// prepareTerminal enables ANSI escape sequences where the console needs it
func prepareTerminal(f *os.File) {
	if runtime.GOOS == "windows" {
		enableWindowsANSI(f)
	}
}

// truncatePath keeps the last n components of path.
// Example: truncatePath("/a/b/c/d/file.txt", 2) → "…/d/file.txt"
func truncatePath(path string, n int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= n {
		return filepath.Base(path)
	}
	return "…/" + strings.Join(parts[len(parts)-n:], "/")
}
