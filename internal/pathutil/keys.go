// Package pathutil checks slash separated relative paths before they become
// object keys, and splits the glob pattern lists that select them.
package pathutil

import "strings"

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// IsSafeRelative reports whether rel can be appended to a key prefix without
// leaving it: non-empty, not rooted, no empty or dot segments, no backslash.
func IsSafeRelative(rel string) bool {
	if rel == "" || strings.HasPrefix(rel, "/") || strings.Contains(rel, `\`) {
		return false
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

// IsHidden reports whether a single file or directory name is a dotfile.
// "." and ".." are not names and are not hidden.
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}
