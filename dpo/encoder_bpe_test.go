package dpo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/go-preference/chat"
	"github.com/gomlx/go-preference/tokenizers/api"
	"github.com/gomlx/go-preference/tokenizers/bpe"
)

// A real byte-level BPE vocabulary where the prompt's last token merges with
// the response's first characters, exercising the boundary adjustment against
// an actual subword tokenizer rather than a scripted one.
const bpeTokenizerJSON = `{
  "model": {
    "type": "BPE",
    "vocab": {
      "h": 0, "e": 1, "l": 2, "o": 3,
      "he": 4, "ll": 5, "hell": 6
    },
    "merges": ["h e", "l l", "he ll"]
  }
}`

func TestEncode_WithBPETokenizer(t *testing.T) {
	tok, err := bpe.NewFromContent([]byte(bpeTokenizerJSON))
	require.NoError(t, err)

	// Concatenating template: the rendered chosen string is "he<response>llo"
	// and becomes "hello" once the delimiter marker is removed, so the prompt
	// "he" ([4]) is no longer a token-level prefix of the full tokenization
	// ([6 3]).
	tmpl, err := chat.New("{{ range .Messages }}{{ .Content }}{{ end }}")
	require.NoError(t, err)

	const (
		bosID = 101
		padID = 102
		eosID = 103
	)
	cfg := Config{
		MaxSequenceLength: 8,
		MaxPromptLength:   4,
		EOSID:             eosID,
		PadID:             padID,
	}
	caps := api.Capabilities{HasBOSTokenID: true, BOSTokenID: bosID}
	enc, err := NewEncoder(cfg, tok, tmpl, caps)
	require.NoError(t, err)

	example, stats, err := enc.Encode(NewDocument("he", "llo", "llo"))
	require.NoError(t, err)
	require.NotNil(t, example)
	assert.Equal(t, 1, stats.Successful)

	// The merged word moved entirely into the response span, leaving only BOS
	// as prompt: [bos, hell, o, eos] plus padding.
	want := []int32{bosID, 6, 3, eosID, padID, padID, padID, padID}
	assert.Equal(t, want, example.ChosenInputIDs)
	assert.Equal(t, []int32{1, 1, 1, 1, 0, 0, 0, 0}, []int32(example.ChosenAttentionMask))
	assert.Equal(t, []int32{6, 3, eosID, padID, padID, padID, padID, padID}, []int32(example.ChosenLabels))
}
