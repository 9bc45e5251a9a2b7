package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/go-preference/chat"
	"github.com/gomlx/go-preference/dpo"
	"github.com/gomlx/go-preference/tokenizers/api"
)

// wordTokenizer mirrors the dpo test fake: ids assigned per word on first
// sight, one instance per worker.
type wordTokenizer struct {
	mu    sync.Mutex
	vocab map[string]int
	next  int
}

func (t *wordTokenizer) Encode(text string) []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]int, 0, 8)
	for _, w := range strings.Fields(text) {
		id, ok := t.vocab[w]
		if !ok {
			id = t.next
			t.next++
			t.vocab[w] = id
		}
		ids = append(ids, id)
	}
	return ids
}

func (t *wordTokenizer) ConvertTokenToID(token string) (int, error) { return 0, nil }

func testFactory(t *testing.T) EncoderFactory {
	tmpl, err := chat.New("{{ range .Messages }}{{ .Role }}: {{ .Content }}\n{{ end }}")
	require.NoError(t, err)
	cfg := dpo.Config{
		MaxSequenceLength: 16,
		MaxPromptLength:   8,
		EOSID:             90,
		PadID:             0,
	}
	caps := api.Capabilities{HasBOSTokenID: true, BOSTokenID: 91}
	return func() (*dpo.Encoder, error) {
		return dpo.NewEncoder(cfg, &wordTokenizer{vocab: make(map[string]int), next: 1}, tmpl, caps)
	}
}

// collectSink records every result it receives.
type collectSink struct {
	examples  int
	discarded int
	stats     dpo.Stats
	failAfter int // fail on the n-th write when > 0
	writes    int
}

func (s *collectSink) Write(example *dpo.Example, stats dpo.Stats) error {
	s.writes++
	if s.failAfter > 0 && s.writes >= s.failAfter {
		return errors.Errorf("sink full")
	}
	if example == nil {
		s.discarded++
	} else {
		s.examples++
	}
	s.stats.Add(stats)
	return nil
}

func feedDocs(docs []dpo.Document) <-chan dpo.Document {
	ch := make(chan dpo.Document, len(docs))
	for _, d := range docs {
		ch <- d
	}
	close(ch)
	return ch
}

func TestRun(t *testing.T) {
	docs := []dpo.Document{
		dpo.NewDocument("q1", "good", "bad"),
		dpo.NewDocument("q2", "yes", "no"),
		{{Kind: dpo.SpanPrompt, Text: "orphan"}}, // discard
		dpo.NewDocument("q3", "a", "b"),
	}
	sink := &collectSink{}
	stats, err := Run(context.Background(), feedDocs(docs), testFactory(t), sink, Options{Workers: 3})
	require.NoError(t, err)

	assert.Equal(t, len(docs), stats.Processed)
	assert.Equal(t, 3, stats.Successful)
	assert.Equal(t, 1, stats.Discarded)
	assert.Equal(t, 3, sink.examples)
	assert.Equal(t, 1, sink.discarded)
	assert.Equal(t, stats, sink.stats)
}

func TestRunSingleWorkerDefault(t *testing.T) {
	docs := []dpo.Document{dpo.NewDocument("q", "good", "bad")}
	sink := &collectSink{}
	stats, err := Run(context.Background(), feedDocs(docs), testFactory(t), sink, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Successful)
	assert.Equal(t, 1, sink.examples)
}

func TestRunSinkFailureStopsRun(t *testing.T) {
	docs := make([]dpo.Document, 10)
	for i := range docs {
		docs[i] = dpo.NewDocument("q", "good", "bad")
	}
	sink := &collectSink{failAfter: 2}
	_, err := Run(context.Background(), feedDocs(docs), testFactory(t), sink, Options{Workers: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink full")
}

func TestRunFactoryFailure(t *testing.T) {
	factory := func() (*dpo.Encoder, error) { return nil, errors.Errorf("no tokenizer") }
	_, err := Run(context.Background(), feedDocs(nil), factory, &collectSink{}, Options{Workers: 2})
	require.Error(t, err)
}
