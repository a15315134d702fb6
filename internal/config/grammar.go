package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// NamePattern is the shared grammar for agent names and resolved fleet
// segment names. Dots are forbidden because qualification joins on them.
const NamePattern = `^[A-Za-z0-9][A-Za-z0-9_-]*$`

var nameRe = regexp.MustCompile(NamePattern)

// ValidName reports whether s is a legal agent or fleet segment name.
func ValidName(s string) bool { return nameRe.MatchString(s) }

// Permission modes accepted in agent files.
var permissionModes = map[string]bool{
	"default":           true,
	"acceptEdits":       true,
	"bypassPermissions": true,
	"plan":              true,
}

var memoryRe = regexp.MustCompile(`(?i)^(\d+)([gmk]?)$`)

// ParseMemoryToBytes parses a docker memory limit string: digits with an
// optional g/m/k suffix (case-insensitive). No suffix means bytes.
func ParseMemoryToBytes(s string) (int64, error) {
	m := memoryRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid memory %q: want digits with optional g/m/k suffix", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory %q: %w", s, err)
	}
	switch strings.ToLower(m[2]) {
	case "g":
		return n * 1024 * 1024 * 1024, nil
	case "m":
		return n * 1024 * 1024, nil
	case "k":
		return n * 1024, nil
	default:
		return n, nil
	}
}

// Volume is a parsed docker volume mapping.
type Volume struct {
	Host      string
	Container string
	ReadOnly  bool
}

// ParseVolume parses host:container[:ro|:rw]. Both paths must be absolute.
func ParseVolume(s string) (Volume, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Volume{}, fmt.Errorf("invalid volume %q: want host:container[:ro|:rw]", s)
	}
	v := Volume{Host: parts[0], Container: parts[1]}
	if len(parts) == 3 {
		switch parts[2] {
		case "ro":
			v.ReadOnly = true
		case "rw":
		default:
			return Volume{}, fmt.Errorf("invalid volume %q: mode must be ro or rw, got %q", s, parts[2])
		}
	}
	if !filepath.IsAbs(v.Host) || !filepath.IsAbs(v.Container) {
		return Volume{}, fmt.Errorf("invalid volume %q: host and container paths must be absolute", s)
	}
	return v, nil
}

// User is a parsed docker user spec.
type User struct {
	UID int
	GID int // -1 when not given
}

// ParseUser parses UID or UID:GID.
func ParseUser(s string) (User, error) {
	parts := strings.Split(s, ":")
	if len(parts) > 2 {
		return User{}, fmt.Errorf("invalid user %q: want UID or UID:GID", s)
	}
	uid, err := strconv.Atoi(parts[0])
	if err != nil || uid < 0 {
		return User{}, fmt.Errorf("invalid user %q: UID must be a non-negative integer", s)
	}
	u := User{UID: uid, GID: -1}
	if len(parts) == 2 {
		gid, err := strconv.Atoi(parts[1])
		if err != nil || gid < 0 {
			return User{}, fmt.Errorf("invalid user %q: GID must be a non-negative integer", s)
		}
		u.GID = gid
	}
	return u, nil
}
