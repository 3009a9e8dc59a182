package monitor

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint is the hex SHA-256 digest identifying a posting across
// fetches. Two fetches of the same posting yield the same fingerprint
// even when whitespace or letter case differs incidentally.
type Fingerprint string

// fieldSep keeps title/summary boundaries unambiguous inside the digest
// input so "ab"+"c" and "a"+"bc" cannot collide.
const fieldSep = "\x1f"

// FingerprintOf computes the posting's identity digest from its stable
// fields: category, normalized title, and normalized summary.
func FingerprintOf(p Posting) Fingerprint {
	input := string(p.Category) + fieldSep +
		normalizeField(p.Title) + fieldSep +
		normalizeField(p.Summary)
	sum := sha256.Sum256([]byte(input))
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// normalizeField lowercases and collapses whitespace runs so incidental
// formatting differences between fetches do not change the fingerprint.
func normalizeField(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
