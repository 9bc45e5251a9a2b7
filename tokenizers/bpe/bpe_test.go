package bpe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTokenizerJSON = `{
  "added_tokens": [
    {"id": 100, "content": "<response>", "special": true}
  ],
  "normalizer": {"type": "Lowercase"},
  "model": {
    "type": "BPE",
    "vocab": {
      "h": 0, "e": 1, "l": 2, "o": 3,
      "he": 4, "ll": 5, "hell": 6,
      "Ġ": 7, "Ġw": 8, "w": 9
    },
    "merges": ["h e", "l l", "he ll", "Ġ w"]
  }
}`

func newTestTokenizer(t *testing.T) *Tokenizer {
	tok, err := NewFromContent([]byte(testTokenizerJSON))
	require.NoError(t, err)
	return tok
}

func TestEncodeMerges(t *testing.T) {
	tok := newTestTokenizer(t)

	// h+e and l+l merge first, then he+ll; "o" stays a single symbol.
	assert.Equal(t, []int{6, 3}, tok.Encode("hello"))
	assert.Equal(t, []int{6}, tok.Encode("hell"))
	assert.Equal(t, []int{4}, tok.Encode("he"))
}

func TestEncodeNormalizes(t *testing.T) {
	tok := newTestTokenizer(t)
	assert.Equal(t, tok.Encode("hello"), tok.Encode("HELLO"))
}

func TestEncodeSpaceAttachesToNextWord(t *testing.T) {
	tok := newTestTokenizer(t)
	// Second "w" carries the byte-level space marker and merges with it.
	assert.Equal(t, []int{9, 8}, tok.Encode("w w"))
}

func TestEncodeBoundaryNotPrefixOfConcatenation(t *testing.T) {
	// The property the preference encoder's alignment exists for: encoding a
	// concatenation is not the concatenation of encodings.
	tok := newTestTokenizer(t)
	prompt := tok.Encode("he")
	full := tok.Encode("hello")
	require.NotEmpty(t, prompt)
	assert.NotEqual(t, prompt[0], full[0])
}

func TestAddedTokens(t *testing.T) {
	tok := newTestTokenizer(t)
	assert.Equal(t, []int{6, 100, 4}, tok.Encode("hell<response>he"))

	id, err := tok.ConvertTokenToID("<response>")
	require.NoError(t, err)
	assert.Equal(t, 100, id)

	id, err = tok.ConvertTokenToID("he")
	require.NoError(t, err)
	assert.Equal(t, 4, id)

	_, err = tok.ConvertTokenToID("missing")
	assert.Error(t, err)
}

func TestNewFromContentRejectsNonBPE(t *testing.T) {
	_, err := NewFromContent([]byte(`{"model": {"type": "WordPiece"}}`))
	assert.Error(t, err)

	_, err = NewFromContent([]byte(`not json`))
	assert.Error(t, err)
}

func TestVocabSize(t *testing.T) {
	tok := newTestTokenizer(t)
	assert.Equal(t, 11, tok.VocabSize())
}
