package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	h := NewCodeHasher("pepper")

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "ABCDEFGH12345678", "ABCDEFGH12345678"},
		{"dashed groups", "ABCD-EFGH-1234-5678", "ABCDEFGH12345678"},
		{"lowercase", "abcd-efgh-1234-5678", "ABCDEFGH12345678"},
		{"spaces and tabs", " ABCD EFGH\t1234 5678 ", "ABCDEFGH12345678"},
		{"underscores", "ABCD_EFGH_1234_5678", "ABCDEFGH12345678"},
		{"fullwidth digits fold", "ＡＢＣＤ-ＥＦＧＨ-１２３４-５６７８", "ABCDEFGH12345678"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := h.Normalize(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeRejectsInvalidCodes(t *testing.T) {
	h := NewCodeHasher("pepper")

	// Too short, punctuation that survives stripping, non-ASCII letters
	// and control bytes must all be rejected.
	for _, in := range []string{
		"",
		"SHORT",
		"1234567",
		"ABCDEFGH!2345678",
		"ABCD EFGH 12Ü4 5678",
		string(make([]byte, 70)),
	} {
		_, err := h.Normalize(in)
		assert.ErrorIs(t, err, ErrCodeInvalid, "input %q", in)
	}
}

func TestHashIsPeppered(t *testing.T) {
	a := NewCodeHasher("pepper-a")
	b := NewCodeHasher("pepper-b")

	assert.Len(t, a.Hash("ABCDEFGH12345678"), 64)
	assert.Equal(t, a.Hash("ABCDEFGH12345678"), a.Hash("ABCDEFGH12345678"))
	assert.NotEqual(t, a.Hash("ABCDEFGH12345678"), b.Hash("ABCDEFGH12345678"))
	assert.NotEqual(t, a.Hash("ABCDEFGH12345678"), a.Hash("ABCDEFGH12345679"))
}

func TestEquivalentSpellingsHashIdentically(t *testing.T) {
	h := NewCodeHasher("pepper")

	n1, err := h.Normalize("ABCD-EFGH-1234-5678")
	require.NoError(t, err)
	n2, err := h.Normalize("abcd efgh 1234 5678")
	require.NoError(t, err)
	assert.Equal(t, h.Hash(n1), h.Hash(n2))
}
