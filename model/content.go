package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeContent applies NFC normalization and collapses whitespace runs.
// The result is what gets hashed and embedded; the stored content keeps the
// caller's formatting.
func NormalizeContent(content string) string {
	return strings.Join(strings.Fields(norm.NFC.String(content)), " ")
}

// ContentHash returns the hex sha256 digest of normalized content.
func ContentHash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
