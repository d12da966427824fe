// Package identity centralizes username normalization so that every component
// compares identities under the same case-folding rules.
package identity

import "strings"

// Reserved conversation keys that must never surface as a chat. They come from
// clients serializing missing values and are filtered everywhere.
var reservedKeys = map[string]struct{}{
	"undefined": {},
	"null":      {},
	"":          {},
}

// Normalize folds a username for comparison. All identity comparisons across
// the registry, router and reconciler go through this function.
func Normalize(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Equal reports whether two usernames denote the same identity.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Reserved reports whether key is one of the invalid conversation keys.
func Reserved(key string) bool {
	_, ok := reservedKeys[strings.TrimSpace(key)]
	return ok
}

// ReservedKeys returns the reserved conversation keys.
func ReservedKeys() []string {
	return []string{"undefined", "null", ""}
}
