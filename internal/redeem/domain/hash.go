package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{8,64}$`)

// CodeHasher canonicalizes user-typed codes and produces the peppered hash
// under which they are stored.
type CodeHasher struct {
	pepper string
}

func NewCodeHasher(pepper string) *CodeHasher {
	return &CodeHasher{pepper: pepper}
}

// Normalize canonicalizes a raw code: trim, NFKC fold, uppercase, then strip
// whitespace and the separator characters users tend to type. "abcd-efgh"
// and "ABCD EFGH" hash identically.
func (h *CodeHasher) Normalize(raw string) (string, error) {
	s := norm.NFKC.String(strings.TrimSpace(raw))
	s = strings.ToUpper(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '-' || r == '_':
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
		default:
			b.WriteRune(r)
		}
	}
	normalized := b.String()
	if !codePattern.MatchString(normalized) {
		return "", ErrCodeInvalid
	}
	return normalized, nil
}

// Hash computes the storage hash of an already-normalized code. The pepper
// keeps a leaked table from being brute-forced against short codes.
func (h *CodeHasher) Hash(normalized string) string {
	sum := sha256.Sum256([]byte(h.pepper + ":" + normalized))
	return hex.EncodeToString(sum[:])
}
