// Package sentencepiece adapts the SentencePiece tokenizer by Google to the
// api.Tokenizer capability consumed by the preference encoder.
package sentencepiece

import (
	esentencepiece "github.com/eliben/go-sentencepiece"
	"github.com/pkg/errors"

	"github.com/gomlx/go-preference/tokenizers/api"
)

// Tokenizer wraps a SentencePiece processor built from a "tokenizer.model"
// file (a SentencePiece Model proto).
type Tokenizer struct {
	*esentencepiece.Processor
	Info *esentencepiece.ModelInfo
}

// Compile time assert that Tokenizer implements api.Tokenizer.
var _ api.Tokenizer = &Tokenizer{}

// NewFromFile creates a SentencePiece tokenizer from a local tokenizer.model path.
func NewFromFile(path string) (*Tokenizer, error) {
	proc, err := esentencepiece.NewProcessorFromPath(path)
	if err != nil {
		return nil, errors.Wrapf(err, "can't create sentencepiece tokenizer from %q", path)
	}
	return &Tokenizer{
		Processor: proc,
		Info:      proc.ModelInfo(),
	}, nil
}

// Encode returns the text encoded into a sequence of ids.
func (p *Tokenizer) Encode(text string) []int {
	tokens := p.Processor.Encode(text)
	ids := make([]int, len(tokens))
	for i, tok := range tokens {
		ids[i] = tok.ID
	}
	return ids
}

// ConvertTokenToID resolves a single token string to its id. The SentencePiece
// processor doesn't expose piece lookup directly, so the token text is encoded
// and must map to exactly one piece.
func (p *Tokenizer) ConvertTokenToID(token string) (int, error) {
	tokens := p.Processor.Encode(token)
	if len(tokens) != 1 {
		return 0, errors.Errorf("token %q is not a single piece in the vocabulary (got %d pieces)", token, len(tokens))
	}
	return tokens[0].ID, nil
}

// Capabilities returns the descriptor for this tokenizer family:
// SentencePiece models don't render chat templates nor prepend BOS on Encode,
// and carry a BOS id in the model proto.
func (p *Tokenizer) Capabilities() api.Capabilities {
	return api.Capabilities{
		SupportsChatTemplate: false,
		AddsBOSToken:         false,
		HasBOSTokenID:        p.Info.BeginningOfSentenceID >= 0,
		BOSTokenID:           p.Info.BeginningOfSentenceID,
	}
}

// EOSID returns the end-of-sequence id from the model proto.
func (p *Tokenizer) EOSID() int { return p.Info.EndOfSentenceID }

// PadID returns the padding id from the model proto.
func (p *Tokenizer) PadID() int { return p.Info.PadID }
