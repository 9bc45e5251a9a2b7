package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixText(t *testing.T) {
	// Combining acute accent composes under NFC.
	got, err := FixText("café", "NFC")
	require.NoError(t, err)
	assert.Equal(t, "café", got)

	// Stray control and replacement characters are stripped, whitespace
	// controls survive.
	got, err = FixText("a\x00b�c\td\n", "NFC")
	require.NoError(t, err)
	assert.Equal(t, "abc\td\n", got)

	_, err = FixText("x", "NFX")
	assert.Error(t, err)
}

func TestFixTextForms(t *testing.T) {
	for _, form := range []string{"NFC", "NFD", "NFKC", "NFKD"} {
		_, err := FixText("über straße", form)
		assert.NoError(t, err, form)
	}
}

func TestWikitextDetokenize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"cost 1 @,@ 000 @.@ 5", "cost 1,000.5"},
		{"long @-@ term", "long-term"},
		{"Hello , world . Done", "Hello, world. Done"},
		{"( spaced out )", "(spaced out)"},
		{"\" quoted text \"", "\"quoted text\""},
		{"= = = Heading = = =", "=== Heading ==="},
		{"the dog 's bone", "the dog's bone"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, WikitextDetokenize(c.in), c.in)
	}
}
