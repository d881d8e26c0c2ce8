// Generic data manipulation utilities.

package main

import (
	"strconv"
	"strings"
)

// parseVersion parses a semantic version string "major.minor.patch" (minor
// and patch optional) into a packed int: (major << 16) | (minor << 8) | patch.
// Returns 0 on unparsable input.
func parseVersion(vers string) int {
	var major, minor, patch int

	parts := strings.SplitN(strings.TrimPrefix(vers, "v"), ".", 3)
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0
	}
	if len(parts) > 1 {
		if minor, err = strconv.Atoi(parts[1]); err != nil {
			return 0
		}
	}
	if len(parts) > 2 {
		if patch, err = strconv.Atoi(parts[2]); err != nil {
			return 0
		}
	}

	if major < 0 || minor < 0 || patch < 0 || major > 0xff || minor > 0xff || patch > 0xff {
		return 0
	}

	return (major << 16) | (minor << 8) | patch
}

// base10Version converts a packed binary version into a readable base-10
// representation, e.g. 1.2.3 becomes 10203.
func base10Version(hex int) int64 {
	major := hex >> 16 & 0xff
	minor := hex >> 8 & 0xff
	trailer := hex & 0xff
	return int64(major*10000 + minor*100 + trailer)
}
