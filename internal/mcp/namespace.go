package mcp

import (
	"strings"
	"unicode"
)

// NameSeparator joins a backend name and a backend-owned identifier into a
// fully-qualified name. It may not occur inside a backend name, so splitting
// on the first occurrence always recovers the original pair even when the
// identifier itself contains the separator.
const NameSeparator = "__"

// ResourceScheme prefixes every resource URI mcpd exposes. The backend's
// original URI, scheme included, follows the single slash after the backend
// name.
const ResourceScheme = "mcpd://"

// QualifyName returns <backend>__<name>.
func QualifyName(backend, name string) string {
	return backend + NameSeparator + name
}

// SplitName splits a fully-qualified name on the first separator. ok is
// false when the separator is missing or either side is empty.
func SplitName(qualified string) (backend, name string, ok bool) {
	backend, name, ok = strings.Cut(qualified, NameSeparator)
	if !ok || backend == "" || name == "" {
		return "", "", false
	}

	return backend, name, true
}

// QualifyResourceURI returns mcpd://<backend>/<uri> with the original uri
// appended verbatim.
func QualifyResourceURI(backend, uri string) string {
	return ResourceScheme + backend + "/" + uri
}

// SplitResourceURI strips the mcpd:// prefix and splits off the backend
// name. ok is false when the prefix is missing, the backend is empty, or
// there is no original URI after the slash.
func SplitResourceURI(uri string) (backend, original string, ok bool) {
	rest, found := strings.CutPrefix(uri, ResourceScheme)
	if !found {
		return "", "", false
	}

	backend, original, found = strings.Cut(rest, "/")
	if !found || backend == "" || original == "" {
		return "", "", false
	}

	return backend, original, true
}

// ValidBackendName reports whether a name is usable inside the namespace:
// non-empty, no separator sequence, no slash (reserved by resource URIs),
// and no whitespace or control characters.
func ValidBackendName(name string) bool {
	if name == "" || strings.Contains(name, NameSeparator) || strings.Contains(name, "/") {
		return false
	}

	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}

	return true
}
