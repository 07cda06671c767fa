package mcp

import (
	"fmt"
	"regexp"
	"strings"
)

// functionSeparator joins a mount prefix and a local tool name into
// the namespaced form `prefix.tool`. The prefix itself can never
// contain it.
const functionSeparator = "."

var prefixRegexp = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// A MountPrefix is the validated namespace under which one backend's
// tools and resources are exposed.
type MountPrefix string

// NewMountPrefix validates the given string and returns it as a
// MountPrefix. It fails if the string contains separators or anything
// outside [a-z0-9_], or does not start with a letter.
func NewMountPrefix(s string) (MountPrefix, error) {

	if !prefixRegexp.MatchString(s) {
		return "", fmt.Errorf("invalid mount prefix '%s': must match %s", s, prefixRegexp.String())
	}

	return MountPrefix(s), nil
}

func (p MountPrefix) String() string { return string(p) }

// BuildFunction returns the namespaced tool name for the given mount
// prefix and local tool name.
func BuildFunction(prefix MountPrefix, tool string) string {
	return string(prefix) + functionSeparator + tool
}

// SplitFunction splits a namespaced tool name on the first separator.
// It fails if there is no separator or if the prefix part is not a
// valid mount prefix.
func SplitFunction(name string) (MountPrefix, string, error) {

	part, tool, ok := strings.Cut(name, functionSeparator)
	if !ok {
		return "", "", fmt.Errorf("invalid namespaced name '%s': missing separator", name)
	}

	prefix, err := NewMountPrefix(part)
	if err != nil {
		return "", "", fmt.Errorf("invalid namespaced name '%s': %w", name, err)
	}

	return prefix, tool, nil
}
