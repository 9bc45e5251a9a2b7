package sentencepiece

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The tests need a real SentencePiece model proto; drop one at
// testdata/tokenizer.model to run them (any public SentencePiece model works).
const testModelPath = "testdata/tokenizer.model"

func newTestTokenizer(t *testing.T) *Tokenizer {
	if _, err := os.Stat(testModelPath); err != nil {
		t.Skipf("%s not present, skipping", testModelPath)
	}
	tok, err := NewFromFile(testModelPath)
	require.NoError(t, err)
	return tok
}

func TestEncodeDeterministic(t *testing.T) {
	tok := newTestTokenizer(t)
	inputs := []string{
		"hello world",
		"The quick brown fox jumps over the lazy dog.",
		"Multiple  spaces   here",
	}
	for _, input := range inputs {
		first := tok.Encode(input)
		assert.NotEmpty(t, first, input)
		assert.Equal(t, first, tok.Encode(input), input)
	}
}

func TestCapabilities(t *testing.T) {
	tok := newTestTokenizer(t)
	caps := tok.Capabilities()
	assert.False(t, caps.AddsBOSToken)
	if caps.HasBOSTokenID {
		assert.GreaterOrEqual(t, caps.BOSTokenID, 0)
	}
}

func TestNewFromFileMissing(t *testing.T) {
	_, err := NewFromFile("testdata/does-not-exist.model")
	assert.Error(t, err)
}
