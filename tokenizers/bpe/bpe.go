// Package bpe implements a byte-level BPE tokenizer over HuggingFace's
// tokenizer.json format (the "fast" tokenizer files used by GPT-2 and
// RoBERTa-family models).
//
// Only the encoding path is implemented: the preference pipeline never decodes.
package bpe

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"

	"github.com/gomlx/go-preference/tokenizers/api"
)

// tokenizerJSON mirrors the subset of tokenizer.json this package reads.
type tokenizerJSON struct {
	AddedTokens []addedToken   `json:"added_tokens"`
	Normalizer  *normalizerDef `json:"normalizer"`
	Model       modelDef       `json:"model"`
}

type addedToken struct {
	ID      int    `json:"id"`
	Content string `json:"content"`
	Special bool   `json:"special"`
}

type normalizerDef struct {
	Type        string          `json:"type"`
	Normalizers []normalizerDef `json:"normalizers"`
}

type modelDef struct {
	Type   string         `json:"type"`
	Vocab  map[string]int `json:"vocab"`
	Merges []string       `json:"merges"`
}

// Tokenizer encodes text with byte-level BPE. It is immutable after
// construction and safe for concurrent use.
type Tokenizer struct {
	vocab      map[string]int
	mergeRanks map[string]int
	added      []addedToken // sorted longest-content-first for greedy matching
	addedIDs   map[string]int
	normalizer *normalizerDef
}

// Compile time assert that Tokenizer implements api.Tokenizer.
var _ api.Tokenizer = &Tokenizer{}

// NewFromFile loads a tokenizer from a local tokenizer.json path.
func NewFromFile(path string) (*Tokenizer, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read tokenizer file %q", path)
	}
	return NewFromContent(content)
}

// NewFromContent builds a tokenizer from tokenizer.json content.
func NewFromContent(content []byte) (*Tokenizer, error) {
	var tj tokenizerJSON
	if err := json.Unmarshal(content, &tj); err != nil {
		return nil, errors.Wrapf(err, "failed to parse tokenizer.json")
	}
	if tj.Model.Type != "" && tj.Model.Type != "BPE" {
		return nil, errors.Errorf("unsupported tokenizer model type %q, only BPE is supported", tj.Model.Type)
	}

	t := &Tokenizer{
		vocab:      tj.Model.Vocab,
		mergeRanks: make(map[string]int, len(tj.Model.Merges)),
		addedIDs:   make(map[string]int, len(tj.AddedTokens)),
		normalizer: tj.Normalizer,
	}
	for i, merge := range tj.Model.Merges {
		t.mergeRanks[merge] = i
	}
	t.added = make([]addedToken, len(tj.AddedTokens))
	copy(t.added, tj.AddedTokens)
	// Longest content first so that overlapping added tokens match greedily.
	for i := 1; i < len(t.added); i++ {
		for j := i; j > 0 && len(t.added[j].Content) > len(t.added[j-1].Content); j-- {
			t.added[j], t.added[j-1] = t.added[j-1], t.added[j]
		}
	}
	for _, at := range tj.AddedTokens {
		t.addedIDs[at.Content] = at.ID
	}
	return t, nil
}

// Encode converts text to a sequence of token ids.
func (t *Tokenizer) Encode(text string) []int {
	var ids []int
	for _, segment := range t.splitAddedTokens(text) {
		if id, ok := t.addedIDs[segment]; ok {
			ids = append(ids, id)
			continue
		}
		normalized := t.normalize(segment)
		for _, word := range preTokenize(normalized) {
			ids = append(ids, t.encodeWord(word)...)
		}
	}
	return ids
}

// ConvertTokenToID implements api.Tokenizer. It resolves added (special)
// tokens first, then plain vocabulary entries.
func (t *Tokenizer) ConvertTokenToID(token string) (int, error) {
	if id, ok := t.addedIDs[token]; ok {
		return id, nil
	}
	if id, ok := t.vocab[token]; ok {
		return id, nil
	}
	return 0, errors.Errorf("token %q not found in vocabulary", token)
}

// VocabSize returns the number of entries, including added tokens.
func (t *Tokenizer) VocabSize() int {
	return len(t.vocab) + len(t.added)
}

// splitAddedTokens cuts text into segments so that every occurrence of an
// added token becomes its own segment and is never normalized or merged.
func (t *Tokenizer) splitAddedTokens(text string) []string {
	segments := []string{text}
	for _, at := range t.added {
		var next []string
		for _, seg := range segments {
			if _, isAdded := t.addedIDs[seg]; isAdded {
				next = append(next, seg)
				continue
			}
			for {
				idx := strings.Index(seg, at.Content)
				if idx < 0 {
					break
				}
				if idx > 0 {
					next = append(next, seg[:idx])
				}
				next = append(next, at.Content)
				seg = seg[idx+len(at.Content):]
			}
			if seg != "" {
				next = append(next, seg)
			}
		}
		segments = next
	}
	return segments
}

func (t *Tokenizer) normalize(text string) string {
	if t.normalizer == nil {
		return text
	}
	return applyNormalizer(text, t.normalizer)
}

func applyNormalizer(text string, n *normalizerDef) string {
	switch n.Type {
	case "NFC":
		return norm.NFC.String(text)
	case "NFD":
		return norm.NFD.String(text)
	case "NFKC":
		return norm.NFKC.String(text)
	case "NFKD":
		return norm.NFKD.String(text)
	case "Lowercase":
		return strings.ToLower(text)
	case "Sequence":
		for i := range n.Normalizers {
			text = applyNormalizer(text, &n.Normalizers[i])
		}
		return text
	default:
		return text
	}
}

// preTokenize splits text into byte-level words. A space attaches to the word
// that follows it, matching GPT-2's byte-level pre-tokenizer closely enough
// for training data (the upstream regex also splits on contractions).
func preTokenize(text string) []string {
	var words []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}
	for i := 0; i < len(text); i++ {
		b := text[i]
		if b == ' ' {
			flush()
			current.WriteRune(byteToUnicode[b])
			continue
		}
		current.WriteRune(byteToUnicode[b])
	}
	flush()
	return words
}

// encodeWord applies BPE merges to a single byte-level word.
func (t *Tokenizer) encodeWord(word string) []int {
	if word == "" {
		return nil
	}
	symbols := make([]string, 0, len(word))
	for _, r := range word {
		symbols = append(symbols, string(r))
	}

	for len(symbols) > 1 {
		bestRank, bestIdx := -1, -1
		for i := 0; i < len(symbols)-1; i++ {
			rank, ok := t.mergeRanks[symbols[i]+" "+symbols[i+1]]
			if !ok {
				continue
			}
			if bestRank == -1 || rank < bestRank {
				bestRank, bestIdx = rank, i
			}
		}
		if bestIdx == -1 {
			break
		}
		merged := symbols[bestIdx] + symbols[bestIdx+1]
		symbols = append(symbols[:bestIdx], append([]string{merged}, symbols[bestIdx+2:]...)...)
	}

	ids := make([]int, 0, len(symbols))
	for _, sym := range symbols {
		if id, ok := t.vocab[sym]; ok {
			ids = append(ids, id)
		}
		// Symbols missing from the vocab are dropped; byte-level vocabularies
		// cover all 256 single bytes so this only happens with truncated test
		// vocabs.
	}
	return ids
}

// Byte-level BPE maps every byte to a printable rune so merges operate on
// strings. This is the GPT-2 byte-to-unicode table.
var byteToUnicode [256]rune

func init() {
	n := 0
	for b := 0; b < 256; b++ {
		if (b >= '!' && b <= '~') || (b >= 0xA1 && b <= 0xAC) || (b >= 0xAE && b <= 0xFF) {
			byteToUnicode[b] = rune(b)
		} else {
			byteToUnicode[b] = rune(256 + n)
			n++
		}
	}
}
