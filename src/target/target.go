// Package target parses the --target values of the list and verify commands.
package target

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Target represents a parsed backup target URI.
// Examples: dir:/mnt/backups, rclone:b2
type Target struct {
	// Raw is the original input string.
	Raw string
	// Scheme is the backend scheme ("dir" or "rclone").
	Scheme string
	// Value is the scheme-specific value: a cleaned absolute path for dir,
	// a remote name without the trailing colon for rclone.
	Value string

	// DirPath is set when Scheme == "dir".
	DirPath string
	// Remote is set when Scheme == "rclone".
	Remote string
}

// Schemes.
const (
	SchemeDir    = "dir"
	SchemeRclone = "rclone"
)

// SupportedSchemes lists the schemes the parser accepts.
var SupportedSchemes = map[string]struct{}{
	SchemeDir:    {},
	SchemeRclone: {},
}

// Parse parses a target URI like "dir:/path" or "rclone:remote".
func Parse(raw string) (Target, error) {
	t := Target{Raw: raw}
	s := strings.TrimSpace(raw)
	if s == "" {
		return t, fmt.Errorf("target must not be empty; expected format 'dir:/path' or 'rclone:<remote>'")
	}
	i := strings.Index(s, ":")
	if i <= 0 || i == len(s)-1 {
		return t, fmt.Errorf("invalid target %q; expected format '<scheme>:<value>' (e.g., 'dir:/path')", raw)
	}
	scheme := strings.ToLower(strings.TrimSpace(s[:i]))
	val := strings.TrimSpace(s[i+1:])
	if _, ok := SupportedSchemes[scheme]; !ok {
		return t, fmt.Errorf("unsupported backend scheme %q", scheme)
	}
	t.Scheme = scheme

	switch scheme {
	case SchemeDir:
		if val == "" {
			return t, fmt.Errorf("directory target path must not be empty")
		}
		clean := filepath.Clean(val)
		if !filepath.IsAbs(clean) {
			return t, fmt.Errorf("directory target must be an absolute path: %q", val)
		}
		t.DirPath = clean
		t.Value = clean
	case SchemeRclone:
		remote := strings.TrimSuffix(val, ":")
		if remote == "" || strings.ContainsAny(remote, ":/ ") {
			return t, fmt.Errorf("rclone target must be a remote name: %q", val)
		}
		t.Remote = remote
		t.Value = remote
	}
	return t, nil
}

// IsSupported returns true if the scheme is recognized.
func IsSupported(scheme string) bool {
	_, ok := SupportedSchemes[strings.ToLower(scheme)]
	return ok
}

// String returns a canonical string form of the target.
func (t Target) String() string {
	if t.Scheme != "" {
		return fmt.Sprintf("%s:%s", t.Scheme, t.Value)
	}
	return t.Raw
}
