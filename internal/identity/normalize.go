// Package identity turns raw contact identifiers into comparison keys.
package identity

import "strings"

// MinKeyLength is the shortest digit string accepted as an identity key.
// Shorter strings are too weak a signal (malformed or missing numbers).
const MinKeyLength = 10

// DefaultNationalMaxDigits is the longest digit string treated as a
// national number when a default country code is configured.
const DefaultNationalMaxDigits = 11

// Normalize strips every non-digit character from a raw phone string.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		if c := raw[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Usable reports whether a normalized key is long enough to group on.
func Usable(key string) bool {
	return len(key) >= MinKeyLength
}

// Normalizer produces grouping keys. The zero value behaves exactly like
// Normalize followed by Usable.
type Normalizer struct {
	// DefaultCountryCode is prepended to national numbers so that
	// "(11) 98765-4321" and "+55 11 98765-4321" share a key.
	// Empty disables canonicalization.
	DefaultCountryCode string

	// NationalMaxDigits bounds what counts as a national number.
	// Zero means DefaultNationalMaxDigits.
	NationalMaxDigits int
}

// Key returns the normalized key for raw and whether it is usable.
func (n Normalizer) Key(raw string) (string, bool) {
	key := Normalize(raw)
	if !Usable(key) {
		return key, false
	}
	cc := Normalize(n.DefaultCountryCode)
	if cc == "" {
		return key, true
	}
	max := n.NationalMaxDigits
	if max <= 0 {
		max = DefaultNationalMaxDigits
	}
	if len(key) <= max {
		key = cc + key
	}
	return key, true
}
