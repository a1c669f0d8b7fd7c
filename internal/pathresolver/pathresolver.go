// Package pathresolver maps source and test paths to the module names used
// in report file names.
package pathresolver

import (
	"path"
	"strings"
)

// Root is the module name of the project root.
const Root = "root"

// sourceRoots are leading directories that do not distinguish modules:
// lib/auth and test/auth belong to the same module.
var sourceRoots = []string{"lib", "test", "src"}

// Resolve returns the module name for a file or directory path. File
// extensions and a trailing _test suffix are dropped, so a test file and its
// directory resolve to the same module as the code under test.
//
//	lib/src/auth              -> auth
//	test/auth/login_test.dart -> auth-login
//	./bin/fo                  -> bin-fo
func Resolve(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, `\`, "/"))
	if p == "" {
		return Root
	}
	p = strings.Trim(path.Clean(p), "/")
	if p == "." {
		return Root
	}

	parts := strings.Split(p, "/")
	for len(parts) > 0 && isSourceRoot(parts[0]) {
		parts = parts[1:]
	}
	if len(parts) == 0 {
		return Root
	}

	last := parts[len(parts)-1]
	last = strings.TrimSuffix(last, path.Ext(last))
	last = strings.TrimSuffix(last, "_test")
	parts[len(parts)-1] = last

	name := Sanitize(strings.Join(parts, "-"))
	if name == "" {
		return Root
	}
	return name
}

func isSourceRoot(dir string) bool {
	for _, r := range sourceRoots {
		if dir == r {
			return true
		}
	}
	return false
}

// Sanitize lowercases s and reduces it to [a-z0-9-]. Runs of other
// characters collapse into a single dash; leading and trailing dashes are
// trimmed.
func Sanitize(s string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			dash = false
		default:
			if !dash && sb.Len() > 0 {
				sb.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(sb.String(), "-")
}
