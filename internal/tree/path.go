package tree

import (
	"fmt"
	"strings"
)

const pathSeparator = "/"

// Join builds a path from segments, skipping empty ones.
func Join(parts ...string) string {
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, pathSeparator)
		if p != "" {
			segments = append(segments, p)
		}
	}
	return strings.Join(segments, pathSeparator)
}

// Split returns the segments of a path. The root path has no segments.
func Split(path string) []string {
	path = strings.Trim(path, pathSeparator)
	if path == "" {
		return nil
	}
	return strings.Split(path, pathSeparator)
}

// Validate rejects empty segments and characters the store reserves.
func Validate(path string) error {
	trimmed := strings.Trim(path, pathSeparator)
	if trimmed == "" {
		return nil
	}
	for _, seg := range strings.Split(trimmed, pathSeparator) {
		if seg == "" {
			return fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, path)
		}
		if strings.ContainsAny(seg, ".#$[]") {
			return fmt.Errorf("%w: reserved character in %q", ErrInvalidPath, path)
		}
	}
	return nil
}

// Related reports whether a change at one path can affect a subscription
// rooted at the other: either is an ancestor of, or equal to, the other.
func Related(a, b string) bool {
	as, bs := Split(a), Split(b)
	n := len(as)
	if len(bs) < n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
