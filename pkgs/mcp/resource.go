package mcp

import "strings"

// ResourcePrefixFormat describes how a mount prefix is folded into a
// resource URI: the prefix becomes the first path segment after the
// scheme, as in resource://origin/foo/bar for a child URI
// resource://foo/bar mounted under "origin".
const ResourcePrefixFormat = "{scheme}://{prefix}/{rest}"

const schemeSeparator = "://"

// AddResourcePrefix returns the given resource URI namespaced under
// the given mount prefix. URIs without a scheme are returned
// prefixed with `prefix/`.
func AddResourcePrefix(prefix MountPrefix, uri string) string {

	scheme, rest, ok := strings.Cut(uri, schemeSeparator)
	if !ok {
		return string(prefix) + "/" + uri
	}

	return scheme + schemeSeparator + string(prefix) + "/" + rest
}

// HasResourcePrefix returns true if the given URI carries the given
// mount prefix according to ResourcePrefixFormat.
func HasResourcePrefix(prefix MountPrefix, uri string) bool {

	_, rest, ok := strings.Cut(uri, schemeSeparator)
	if !ok {
		rest = uri
	}

	return rest == string(prefix) || strings.HasPrefix(rest, string(prefix)+"/")
}

// TrimResourcePrefix removes the given mount prefix from the URI. It
// returns the URI unchanged when the prefix is not present.
func TrimResourcePrefix(prefix MountPrefix, uri string) string {

	scheme, rest, ok := strings.Cut(uri, schemeSeparator)
	if !ok {
		return strings.TrimPrefix(uri, string(prefix)+"/")
	}

	if !strings.HasPrefix(rest, string(prefix)+"/") {
		return uri
	}

	return scheme + schemeSeparator + strings.TrimPrefix(rest, string(prefix)+"/")
}
