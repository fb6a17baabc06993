package model

import (
	"path/filepath"
	"strings"
)

// Contract numbers use "/" as a section separator (e.g. "100/LO2024/5"),
// which is unsafe as a store address or a filename. SanitizeKey and
// DisplayKey convert between the two forms.
//
// Known gap: a raw contract number that legitimately contains "_" collides
// with the sanitized form of its "/" sibling. The observed identifier
// alphabet does not produce such numbers, so collisions are accepted
// rather than worked around.

// SanitizeKey converts a raw contract number into a store-safe key by
// replacing every "/" with "_". It is pure, deterministic, and idempotent,
// and never emits "/".
func SanitizeKey(raw string) string {
	return strings.ReplaceAll(strings.TrimSpace(raw), "/", "_")
}

// DisplayKey converts a sanitized key back to the canonical contract
// number for display and remote lookup. It must never be used to address
// the store.
func DisplayKey(key string) string {
	return strings.ReplaceAll(key, "_", "/")
}

// KeyFromFilename derives the sanitized contract key from an intake
// filename: the base name with its extension stripped.
func KeyFromFilename(name string) string {
	base := filepath.Base(name)
	return SanitizeKey(strings.TrimSuffix(base, filepath.Ext(base)))
}
