package keys

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// codeAlphabet matches the keys sold through the storefront: uppercase
// alphanumerics grouped for human typing, e.g. 7F2K-9QXM-AA01-ZZRC.
const (
	codeAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeGroups     = 4
	codeGroupSize  = 4
	codeSeparator  = "-"
	maxPrefixRunes = 12
)

// GenerateCode produces a random key code. An optional prefix (e.g. "PRO")
// is uppercased and prepended as its own group. Uniqueness is enforced by the
// storage layer, not here; callers retry on collision.
func GenerateCode(prefix string) (string, error) {
	buf := make([]byte, codeGroups*codeGroupSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading randomness: %w", err)
	}

	groups := make([]string, 0, codeGroups+1)
	if p := NormalizePrefix(prefix); p != "" {
		groups = append(groups, p)
	}

	var group strings.Builder
	for i, b := range buf {
		group.WriteByte(codeAlphabet[int(b)%len(codeAlphabet)])
		if (i+1)%codeGroupSize == 0 {
			groups = append(groups, group.String())
			group.Reset()
		}
	}

	return strings.Join(groups, codeSeparator), nil
}

// NormalizePrefix uppercases and trims a caller-supplied prefix, dropping
// anything outside the code alphabet.
func NormalizePrefix(prefix string) string {
	upper := strings.ToUpper(strings.TrimSpace(prefix))
	var out strings.Builder
	for _, r := range upper {
		if strings.ContainsRune(codeAlphabet, r) {
			out.WriteRune(r)
		}
		if out.Len() >= maxPrefixRunes {
			break
		}
	}
	return out.String()
}

// NormalizeCode canonicalizes user-typed key codes for lookup: trimmed and
// uppercased, the way they were issued.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
