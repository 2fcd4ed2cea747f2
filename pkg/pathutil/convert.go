// Package pathutil converts between the absolute paths used internally and
// the relative paths shown to users. Archive entry paths keep their "!/"
// suffix; only the on-disk part is converted.
package pathutil

import (
	"fmt"
	"path/filepath"
	"strings"
)

const archiveSeparator = "!/"

// ToRelative converts an absolute path to relative based on rootDir.
// Falls back to the original path when conversion fails, when the path is
// already relative, or when it lies outside rootDir.
//
// Examples:
//   - ToRelative("/work/lib/app.jar", "/work") → "lib/app.jar"
//   - ToRelative("/work/lib/app.jar!/a/B.class", "/work") → "lib/app.jar!/a/B.class"
//   - ToRelative("/other/C.class", "/work") → "/other/C.class"
func ToRelative(absPath, rootDir string) string {
	if absPath == "" || rootDir == "" {
		return absPath
	}
	disk, entry, nested := strings.Cut(absPath, archiveSeparator)
	if !filepath.IsAbs(disk) {
		return absPath
	}

	disk = filepath.Clean(disk)
	rootDir = filepath.Clean(rootDir)
	rel, err := filepath.Rel(rootDir, disk)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return absPath
	}
	if nested {
		return rel + archiveSeparator + entry
	}
	return rel
}

// ToAbsolute resolves every path against the working directory
func ToAbsolute(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		disk, entry, nested := strings.Cut(p, archiveSeparator)
		abs, err := filepath.Abs(disk)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %q: %w", p, err)
		}
		if nested {
			abs += archiveSeparator + entry
		}
		out = append(out, abs)
	}
	return out, nil
}
