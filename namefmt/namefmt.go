// Package namefmt implements the ctfile name grammar (§6 "Ctfile name
// grammar", §8 property 8) and the cook/uncook mapping between a
// user-facing ctfile name and its canonical server form (§1 Non-goals:
// filesystem helpers are out of scope as a storage layer, but the naming
// convention itself is part of this engine).
package namefmt

import (
	"encoding/base64"
	"strings"
)

// RejectChars is the set of characters forbidden in the user portion of a
// ctfile name, mirroring CT_CTFILE_REJECTCHRS from the original
// implementation: characters that would be awkward across the
// filesystems and shells the name might later cross.
const RejectChars = "/\\:*?\"<>| \t\n"

// MaxLen bounds the base64-encoded wire form of "YYYYMMDD-HHMMSS-<user>",
// mirroring CT_CTFILE_MAXLEN.
const MaxLen = 1024

// Verify reports whether name is a legal ctfile user-portion: it must
// contain no RejectChars character, and "YYYYMMDD-HHMMSS-" + name must
// base64-encode within MaxLen bytes (§8 property 8: "verify(name) returns 0
// iff name contains no rejected character and ... base64-encodes within
// the maximum length").
func Verify(name string) bool {
	if name == "" {
		return false
	}
	if strings.ContainsAny(name, RejectChars) {
		return false
	}
	full := "YYYYMMDD-HHMMSS-" + name
	if len(full) >= MaxLen {
		return false
	}
	encoded := base64.StdEncoding.EncodedLen(len(full))
	return encoded < MaxLen
}

// Cook maps a user-facing ctfile name to its canonical server form. This
// engine's naming convention is the identity mapping; Cook/Uncook exist as
// the override point the original reserves for site-specific remote
// naming conventions.
func Cook(name string) string { return name }

// Uncook is Cook's inverse.
func Uncook(name string) string { return name }
