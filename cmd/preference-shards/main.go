// Command preference-shards reads preference documents from a JSONL file
// (objects with "prompt", "chosen" and "rejected" fields), encodes them into
// fixed-shape training examples, and writes parquet shards plus a manifest to
// the output directory.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/go-preference/chat"
	"github.com/gomlx/go-preference/dpo"
	"github.com/gomlx/go-preference/pipeline"
	"github.com/gomlx/go-preference/shards"
	"github.com/gomlx/go-preference/tokenizers/api"
	"github.com/gomlx/go-preference/tokenizers/bpe"
	"github.com/gomlx/go-preference/tokenizers/sentencepiece"
)

var (
	flagInput     = flag.String("input", "", "JSONL file with prompt/chosen/rejected documents")
	flagOutput    = flag.String("output", "", "output directory for parquet shards")
	flagTokenizer = flag.String("tokenizer", "", "tokenizer file: tokenizer.model (sentencepiece) or tokenizer.json (bpe)")
	flagFormat    = flag.String("format", "sentencepiece", "tokenizer format: sentencepiece or bpe")

	flagMaxSeqLen    = flag.Int("max_seq_length", 2048, "maximum sequence length of each example row")
	flagMaxPromptLen = flag.Int("max_prompt_length", 512, "prompt token budget when truncation is needed")
	flagDelimiter    = flag.String("response_delimiter", "<response>", "marker separating prompt from response")
	flagKeepHead     = flag.Bool("truncate_keep_head", false, "keep the first prompt tokens instead of the last when truncating")
	flagFixup        = flag.Bool("use_text_fixup", false, "apply Unicode fixup to rendered text")
	flagFixupForm    = flag.String("text_fixup_form", "NFC", "normalization form for text fixup")
	flagWikitext     = flag.Bool("wikitext_detokenize", false, "apply wikitext detokenization to rendered text")
	flagTemplate     = flag.String("chat_template", "", "custom chat template (Go text/template); default is ChatML-style")

	flagEOSID = flag.Int("eos_id", -1, "end-of-sequence id (bpe format only; sentencepiece models carry their own)")
	flagPadID = flag.Int("pad_id", -1, "padding id (bpe format only)")
	flagBOSID = flag.Int("bos_id", -1, "beginning-of-sequence id, -1 if the tokenizer has none (bpe format only)")

	flagWorkers      = flag.Int("workers", 4, "parallel encoder workers")
	flagRowsPerShard = flag.Int("rows_per_shard", 8192, "examples per parquet shard")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if err := run(); err != nil {
		klog.Exitf("preference-shards failed: %+v", err)
	}
}

func run() error {
	if *flagInput == "" || *flagOutput == "" || *flagTokenizer == "" {
		return errors.Errorf("-input, -output and -tokenizer are required")
	}

	tok, caps, eosID, padID, err := buildTokenizer()
	if err != nil {
		return err
	}

	tmpl := chat.Default()
	if *flagTemplate != "" {
		if tmpl, err = chat.New(*flagTemplate); err != nil {
			return err
		}
	}

	cfg := dpo.Config{
		UseTextFixup:          *flagFixup,
		TextFixupForm:         *flagFixupForm,
		UseWikitextDetokenize: *flagWikitext,
		MaxSequenceLength:     *flagMaxSeqLen,
		MaxPromptLength:       *flagMaxPromptLen,
		ResponseDelimiter:     *flagDelimiter,
		EOSID:                 eosID,
		PadID:                 padID,
	}
	if *flagKeepHead {
		cfg.PromptTruncation = dpo.TruncateKeepHead
	}

	writer, err := shards.NewWriter(*flagOutput, shards.Options{MaxRowsPerShard: *flagRowsPerShard})
	if err != nil {
		return err
	}

	docs := make(chan dpo.Document, *flagWorkers)
	readErr := make(chan error, 1)
	go func() {
		defer close(docs)
		readErr <- readDocuments(*flagInput, docs)
	}()

	factory := func() (*dpo.Encoder, error) {
		return dpo.NewEncoder(cfg, tok, tmpl, caps)
	}
	stats, err := pipeline.Run(context.Background(), docs, factory, writer, pipeline.Options{Workers: *flagWorkers})
	if err != nil {
		return err
	}
	if err := <-readErr; err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	printSummary(stats)
	return nil
}

func buildTokenizer() (tok api.Tokenizer, caps api.Capabilities, eosID, padID int, err error) {
	switch *flagFormat {
	case "sentencepiece":
		sp, spErr := sentencepiece.NewFromFile(*flagTokenizer)
		if spErr != nil {
			return nil, api.Capabilities{}, 0, 0, spErr
		}
		return sp, sp.Capabilities(), sp.EOSID(), sp.PadID(), nil
	case "bpe":
		if *flagEOSID < 0 || *flagPadID < 0 {
			return nil, api.Capabilities{}, 0, 0, errors.Errorf("-eos_id and -pad_id are required with -format=bpe")
		}
		bt, bpeErr := bpe.NewFromFile(*flagTokenizer)
		if bpeErr != nil {
			return nil, api.Capabilities{}, 0, 0, bpeErr
		}
		caps := api.Capabilities{
			HasBOSTokenID: *flagBOSID >= 0,
			BOSTokenID:    *flagBOSID,
		}
		return bt, caps, *flagEOSID, *flagPadID, nil
	default:
		return nil, api.Capabilities{}, 0, 0, errors.Errorf("unknown tokenizer format %q", *flagFormat)
	}
}

// document is the JSONL input form.
type document struct {
	Prompt   string `json:"prompt"`
	Chosen   string `json:"chosen"`
	Rejected string `json:"rejected"`
}

func readDocuments(path string, docs chan<- dpo.Document) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open input %q", path)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<26)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var d document
		if err := json.Unmarshal(raw, &d); err != nil {
			return errors.Wrapf(err, "invalid document on line %d of %q", line, path)
		}
		docs <- dpo.NewDocument(d.Prompt, d.Chosen, d.Rejected)
	}
	return errors.Wrapf(scanner.Err(), "failed reading %q", path)
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(24)
)

func printSummary(stats dpo.Stats) {
	fmt.Println(titleStyle.Render("preference-shards summary"))
	rows := []struct {
		key   string
		value int
	}{
		{"processed", stats.Processed},
		{"successful", stats.Successful},
		{"discarded", stats.Discarded},
		{"raw bytes", stats.RawBytesCount},
		{"normalized bytes", stats.NormalizedBytesCount},
		{"tokens", stats.NumTokens},
		{"pad tokens", stats.NumPadTokens},
		{"loss-valid tokens", stats.LossValidTokens},
		{"masked tokens", stats.NumMaskedTokens},
	}
	for _, row := range rows {
		fmt.Printf("%s %d\n", keyStyle.Render(row.key), row.value)
	}
}
