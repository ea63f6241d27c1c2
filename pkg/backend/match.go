package backend

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// splitPattern splits a remote path into the directory to list and the
// base-name pattern to match against its entries.
func splitPattern(p string) (dir, pattern string) {
	p = strings.TrimRight(p, "/")
	dir, pattern = path.Split(p)
	if dir == "" {
		dir = "."
	} else if dir != "/" {
		dir = strings.TrimRight(dir, "/")
	}
	return dir, pattern
}

// matchName reports whether name matches pattern. A literal name always
// matches itself, so paths containing glob metacharacters stay addressable.
func matchName(pattern, name string) bool {
	if pattern == name {
		return true
	}
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}
