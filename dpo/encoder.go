// Package dpo builds model-ready preference-pair examples from
// prompt/chosen/rejected documents: chat-template rendering, tokenization with
// prompt/response boundary alignment, truncation under a sequence-length
// budget, next-token label construction with prompt masking, and padding to a
// fixed shape.
package dpo

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/gomlx/go-preference/textnorm"
	"github.com/gomlx/go-preference/tokenizers/api"
)

// Encoder turns Documents into fixed-shape Examples. It holds only immutable
// configuration, so a single Encoder may serve concurrent callers as long as
// the tokenizer and chat templater are themselves concurrency-safe.
type Encoder struct {
	cfg   Config
	tok   api.Tokenizer
	tmpl  api.ChatTemplater
	caps  api.Capabilities
	bosID int
	sepID int // -1 when no SepToken configured
	diag  DiagnosticSink
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithDiagnostics replaces the default klog diagnostic sink.
func WithDiagnostics(sink DiagnosticSink) Option {
	return func(e *Encoder) { e.diag = sink }
}

// NewEncoder builds an Encoder. The capability descriptor is decided by the
// harness (not probed from the tokenizer): it tells the encoder whether Encode
// already prepends BOS and whether a usable BOS id exists. When the tokenizer
// has no BOS id, the EOS id is used in its place and a warning diagnostic is
// emitted.
func NewEncoder(cfg Config, tok api.Tokenizer, tmpl api.ChatTemplater, caps api.Capabilities, opts ...Option) (*Encoder, error) {
	if tok == nil {
		return nil, errors.Errorf("tokenizer is required")
	}
	if tmpl == nil {
		return nil, errors.Errorf("chat templater is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.UseTextFixup {
		if _, err := textnorm.FixText("", cfg.TextFixupForm); err != nil {
			return nil, err
		}
	}

	e := &Encoder{
		cfg:   cfg,
		tok:   tok,
		tmpl:  tmpl,
		caps:  caps,
		sepID: -1,
		diag:  klogSink,
	}
	for _, opt := range opts {
		opt(e)
	}

	if caps.HasBOSTokenID {
		e.bosID = caps.BOSTokenID
	} else {
		e.bosID = cfg.EOSID
		e.diag(Diagnostic{
			Level:   DiagnosticWarning,
			Code:    DiagBOSFallback,
			Message: "tokenizer has no bos token id, falling back to eos id",
		})
	}

	if cfg.SepToken != "" {
		id, err := tok.ConvertTokenToID(cfg.SepToken)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve sep token %q", cfg.SepToken)
		}
		e.sepID = id
	}
	return e, nil
}

// tokenized is the fixed-field record of one tokenized text: three parallel
// sequences of equal length, labels starting out identical to the input ids.
type tokenized struct {
	inputIDs      []int
	attentionMask []int
	labels        []int
}

// tokenize encodes text and builds the all-ones attention mask and the label
// copy alongside it.
func (e *Encoder) tokenize(text string) tokenized {
	ids := e.tok.Encode(text)
	mask := make([]int, len(ids))
	labels := make([]int, len(ids))
	for i := range ids {
		mask[i] = 1
		labels[i] = ids[i]
	}
	return tokenized{inputIDs: ids, attentionMask: mask, labels: labels}
}

// aligned is the tokenization of a full prompt+response string, split at the
// prompt boundary.
type aligned struct {
	promptInputIDs      []int
	promptAttentionMask []int
	inputIDs            []int
	attentionMask       []int
}

// alignPromptToResponse tokenizes fullText and splits it at the prompt
// boundary, handling tokenizers where encoding a concatenation is not the
// concatenation of encodings: when the independently-encoded prompt does not
// prefix-match the full tokenization, the last prompt token was merged into
// the response and the boundary moves back by one.
func (e *Encoder) alignPromptToResponse(prompt, fullText string) (aligned, error) {
	full := e.tokenize(fullText)
	promptIDs := e.tok.Encode(prompt)

	boundary := len(promptIDs)
	if boundary > len(full.inputIDs) {
		return aligned{}, errors.Errorf(
			"prompt tokenization (%d tokens) is longer than the full prompt-response tokenization (%d tokens)",
			boundary, len(full.inputIDs))
	}
	if !intsEqual(full.inputIDs[:boundary], promptIDs) {
		boundary--
	}

	out := aligned{
		promptInputIDs:      full.inputIDs[:boundary],
		promptAttentionMask: full.attentionMask[:boundary],
		inputIDs:            full.inputIDs[boundary:],
		attentionMask:       full.attentionMask[boundary:],
	}
	// Unreachable given equal-length construction, but a violation here means
	// corrupt training data, so it must surface as a hard failure.
	if len(out.promptInputIDs) != len(out.promptAttentionMask) {
		return aligned{}, errors.Errorf("prompt input ids and attention mask lengths diverged: %d vs %d",
			len(out.promptInputIDs), len(out.promptAttentionMask))
	}
	return out, nil
}

// Encode builds the example for one document.
//
// Data-quality problems (missing chosen/rejected span, delimiter lost during
// chat templating) discard the document: the returned Example is nil, Stats
// records the discard, and the error is nil. A non-nil error indicates a
// contract violation (tokenizer or configuration defect) and the caller should
// stop the batch rather than keep producing output.
func (e *Encoder) Encode(doc Document) (*Example, Stats, error) {
	stats := Stats{Processed: 1}

	prompt, chosen, rejected := doc.extract(e.cfg.ResponseDelimiter)
	if emptyField := describeEmpty(chosen, rejected); emptyField != "" {
		e.diag(Diagnostic{
			Level:   DiagnosticWarning,
			Code:    DiagEmptyField,
			Message: fmt.Sprintf("%s is empty, skipping document", emptyField),
		})
		stats.Discarded = 1
		return nil, stats, nil
	}

	promptChosen, err := e.tmpl.ApplyChatTemplate([]api.Message{
		{Role: e.cfg.UserRole, Content: prompt},
		{Role: e.cfg.AssistantRole, Content: chosen},
	})
	if err != nil {
		return nil, stats, errors.Wrapf(err, "failed to render chosen document")
	}
	promptRejected, err := e.tmpl.ApplyChatTemplate([]api.Message{
		{Role: e.cfg.UserRole, Content: prompt},
		{Role: e.cfg.AssistantRole, Content: rejected},
	})
	if err != nil {
		return nil, stats, errors.Wrapf(err, "failed to render rejected document")
	}

	stats.RawCharsCount = utf8.RuneCountInString(promptChosen) + utf8.RuneCountInString(promptRejected)
	stats.RawBytesCount = len(promptChosen) + len(promptRejected)
	stats.NormalizedCharsCount = stats.RawCharsCount
	stats.NormalizedBytesCount = stats.RawBytesCount

	if e.cfg.UseTextFixup {
		if promptChosen, err = textnorm.FixText(promptChosen, e.cfg.TextFixupForm); err != nil {
			return nil, stats, err
		}
		if promptRejected, err = textnorm.FixText(promptRejected, e.cfg.TextFixupForm); err != nil {
			return nil, stats, err
		}
	}
	if e.cfg.UseWikitextDetokenize {
		promptChosen = textnorm.WikitextDetokenize(promptChosen)
		promptRejected = textnorm.WikitextDetokenize(promptRejected)
	}
	if e.cfg.UseTextFixup || e.cfg.UseWikitextDetokenize {
		stats.NormalizedCharsCount = utf8.RuneCountInString(promptChosen) + utf8.RuneCountInString(promptRejected)
		stats.NormalizedBytesCount = len(promptChosen) + len(promptRejected)
	}

	// The delimiter marks where the assistant response begins in the rendered
	// string; it is a marker only and is removed from the final text.
	delim := e.cfg.ResponseDelimiter
	boundary := strings.LastIndex(promptChosen, delim)
	if boundary == -1 {
		e.diag(Diagnostic{
			Level:   DiagnosticWarning,
			Code:    DiagMissingDelimiter,
			Message: "response delimiter not found in rendered chosen string, skipping document",
		})
		stats.Discarded = 1
		return nil, stats, nil
	}
	promptText := promptChosen[:boundary]
	promptChosen = promptChosen[:boundary] + promptChosen[boundary+len(delim):]

	// The chosen boundary index is assumed to hold for the rejected rendering
	// (both share the prompt prefix). Guard against templates whose rendering
	// shifts with content length before reusing it.
	rejBoundary := boundary
	if rejBoundary+len(delim) > len(promptRejected) || promptRejected[rejBoundary:rejBoundary+len(delim)] != delim {
		rejBoundary = strings.LastIndex(promptRejected, delim)
		if rejBoundary == -1 {
			e.diag(Diagnostic{
				Level:   DiagnosticWarning,
				Code:    DiagMissingDelimiter,
				Message: "response delimiter not found in rendered rejected string, skipping document",
			})
			stats.Discarded = 1
			return nil, stats, nil
		}
		e.diag(Diagnostic{
			Level: DiagnosticWarning,
			Code:  DiagDelimiterShift,
			Message: fmt.Sprintf("delimiter index differs between renderings (chosen %d, rejected %d)",
				boundary, rejBoundary),
		})
	}
	promptRejected = promptRejected[:rejBoundary] + promptRejected[rejBoundary+len(delim):]

	promptTokens := e.tokenize(promptText)
	chosenTokens, err := e.alignPromptToResponse(promptText, promptChosen)
	if err != nil {
		return nil, stats, errors.Wrapf(err, "chosen alignment failed")
	}
	rejectedTokens, err := e.alignPromptToResponse(promptText, promptRejected)
	if err != nil {
		return nil, stats, errors.Wrapf(err, "rejected alignment failed")
	}

	e.reconcilePrompts(&promptTokens, chosenTokens, rejectedTokens)

	if !e.caps.AddsBOSToken {
		promptTokens.inputIDs = prependInt(promptTokens.inputIDs, e.bosID)
		promptTokens.attentionMask = prependInt(promptTokens.attentionMask, 1)
		chosenTokens.promptInputIDs = prependInt(chosenTokens.promptInputIDs, e.bosID)
		chosenTokens.promptAttentionMask = prependInt(chosenTokens.promptAttentionMask, 1)
		rejectedTokens.promptInputIDs = prependInt(rejectedTokens.promptInputIDs, e.bosID)
		rejectedTokens.promptAttentionMask = prependInt(rejectedTokens.promptAttentionMask, 1)
	}

	chosenTokens.inputIDs = append(chosenTokens.inputIDs, e.cfg.EOSID)
	chosenTokens.attentionMask = append(chosenTokens.attentionMask, 1)
	rejectedTokens.inputIDs = append(rejectedTokens.inputIDs, e.cfg.EOSID)
	rejectedTokens.attentionMask = append(rejectedTokens.attentionMask, 1)

	longerResponse := max(len(chosenTokens.inputIDs), len(rejectedTokens.inputIDs))

	// If the combined sequence is over budget, truncate the prompt first.
	if err := e.truncatePrompt(&chosenTokens.promptInputIDs, &chosenTokens.promptAttentionMask, longerResponse); err != nil {
		return nil, stats, err
	}
	if err := e.truncatePrompt(&rejectedTokens.promptInputIDs, &rejectedTokens.promptAttentionMask, longerResponse); err != nil {
		return nil, stats, err
	}
	if err := e.truncatePrompt(&promptTokens.inputIDs, &promptTokens.attentionMask, longerResponse); err != nil {
		return nil, stats, err
	}

	// If still over budget, truncate the response.
	e.truncateResponse(&chosenTokens, longerResponse)
	e.truncateResponse(&rejectedTokens, longerResponse)

	chosenRows := e.buildRows(chosenTokens)
	rejectedRows := e.buildRows(rejectedTokens)

	ex := &Example{
		ChosenInputIDs:        chosenRows.inputIDs,
		ChosenAttentionMask:   chosenRows.attentionMask,
		ChosenLabels:          chosenRows.labels,
		RejectedInputIDs:      rejectedRows.inputIDs,
		RejectedAttentionMask: rejectedRows.attentionMask,
		RejectedLabels:        rejectedRows.labels,
	}

	maxLen := e.cfg.MaxSequenceLength
	stats.NumPadTokens = chosenRows.padTokens + rejectedRows.padTokens
	stats.LossValidTokens = sumInt32(ex.ChosenAttentionMask) + sumInt32(ex.RejectedAttentionMask)
	stats.NumMaskedTokens = 2*maxLen - stats.LossValidTokens
	stats.NumTokens = 6 * maxLen
	stats.Successful = 1
	return ex, stats, nil
}

// reconcilePrompts truncates the standalone prompt tokenization to the shorter
// of the two per-side prompt lengths (the last prompt token may have merged
// into a response on one side only), and reports divergence beyond a 1-token
// tolerance. The reconciled record feeds truncation and diagnostics; its
// tokens do not reach the final batch.
func (e *Encoder) reconcilePrompts(prompt *tokenized, chosen, rejected aligned) {
	promptLen := min(len(chosen.promptInputIDs), len(rejected.promptInputIDs))
	prompt.inputIDs = prompt.inputIDs[:min(promptLen, len(prompt.inputIDs))]
	prompt.attentionMask = prompt.attentionMask[:min(promptLen, len(prompt.attentionMask))]
	prompt.labels = prompt.labels[:min(promptLen, len(prompt.labels))]

	numDiffTokens := 0
	for i := 0; i < promptLen; i++ {
		if chosen.promptInputIDs[i] != rejected.promptInputIDs[i] {
			numDiffTokens++
		}
	}
	numDiffLen := len(chosen.promptInputIDs) - len(rejected.promptInputIDs)
	if numDiffLen < 0 {
		numDiffLen = -numDiffLen
	}
	if numDiffTokens > 1 || numDiffLen > 1 {
		e.diag(Diagnostic{
			Level: DiagnosticWarning,
			Code:  DiagPromptDivergence,
			Message: fmt.Sprintf("chosen and rejected prompt tokenizations diverge: %d differing tokens, length difference %d",
				numDiffTokens, numDiffLen),
		})
	}
}

// truncatePrompt applies the configured prompt truncation policy when the
// prompt plus the longer of the two responses exceeds the sequence budget.
func (e *Encoder) truncatePrompt(ids, mask *[]int, longerResponse int) error {
	if len(*ids)+longerResponse <= e.cfg.MaxSequenceLength {
		return nil
	}
	keep := e.cfg.MaxPromptLength
	if keep > len(*ids) {
		keep = len(*ids)
	}
	switch e.cfg.PromptTruncation {
	case TruncateKeepHead:
		*ids = (*ids)[:keep]
		*mask = (*mask)[:keep]
	case TruncateKeepTail:
		*ids = (*ids)[len(*ids)-keep:]
		*mask = (*mask)[len(*mask)-keep:]
	default:
		return errors.Errorf("unknown truncation mode: %d", int(e.cfg.PromptTruncation))
	}
	return nil
}

// truncateResponse clips the response to the budget left after the prompt
// allocation when prompt truncation alone was not enough.
func (e *Encoder) truncateResponse(t *aligned, longerResponse int) {
	if len(t.promptInputIDs)+longerResponse <= e.cfg.MaxSequenceLength {
		return
	}
	keep := e.cfg.MaxSequenceLength - e.cfg.MaxPromptLength
	if keep > len(t.inputIDs) {
		keep = len(t.inputIDs)
	}
	t.inputIDs = t.inputIDs[:keep]
	t.attentionMask = t.attentionMask[:keep]
}

// paddedRows is one side of the batch after label construction, padding and
// prompt loss-masking.
type paddedRows struct {
	inputIDs      []int32
	attentionMask []int32
	labels        []int32
	padTokens     int
}

// buildRows concatenates the prompt and response parts, derives the
// shifted-by-one labels with the prompt span masked to the pad id, pads all
// three rows to the fixed length, and zeroes the attention mask over the
// prompt span so no loss lands on prompt tokens. The mask zeroing covers the
// first len(prompt)-1 positions, aligned with the label shift.
func (e *Encoder) buildRows(t aligned) paddedRows {
	maxLen := e.cfg.MaxSequenceLength
	padID := int32(e.cfg.PadID)

	seqIDs := make([]int, 0, len(t.promptInputIDs)+len(t.inputIDs))
	seqIDs = append(seqIDs, t.promptInputIDs...)
	seqIDs = append(seqIDs, t.inputIDs...)
	seqMask := make([]int, 0, len(t.promptAttentionMask)+len(t.attentionMask))
	seqMask = append(seqMask, t.promptAttentionMask...)
	seqMask = append(seqMask, t.attentionMask...)

	promptMasked := len(t.promptInputIDs) - 1
	if promptMasked < 0 {
		promptMasked = 0
	}

	rows := paddedRows{
		inputIDs:      make([]int32, maxLen),
		attentionMask: make([]int32, maxLen),
		labels:        make([]int32, maxLen),
	}
	for i := range rows.inputIDs {
		rows.inputIDs[i] = padID
		rows.labels[i] = padID
	}

	n := copyInts(rows.inputIDs, seqIDs)
	rows.padTokens += maxLen - n
	n = copyInts(rows.attentionMask, seqMask)
	rows.padTokens += maxLen - n

	// labels[i] = input_ids[i+1]; positions inside the prompt carry no loss.
	labelLen := len(seqIDs) - 1
	if labelLen < 0 {
		labelLen = 0
	}
	for i := 0; i < labelLen && i < maxLen; i++ {
		if i < promptMasked {
			rows.labels[i] = padID
		} else {
			rows.labels[i] = int32(seqIDs[i+1])
		}
	}
	rows.padTokens += maxLen - min(labelLen, maxLen)

	for i := 0; i < promptMasked && i < maxLen; i++ {
		rows.attentionMask[i] = 0
	}
	return rows
}

func describeEmpty(chosen, rejected string) string {
	switch {
	case chosen == "" && rejected == "":
		return "chosen and rejected"
	case chosen == "":
		return "chosen"
	case rejected == "":
		return "rejected"
	}
	return ""
}

func intsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func prependInt(s []int, v int) []int {
	out := make([]int, 0, len(s)+1)
	out = append(out, v)
	return append(out, s...)
}

func copyInts(dst []int32, src []int) int {
	n := len(src)
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = int32(src[i])
	}
	return n
}

func sumInt32(s []int32) int {
	total := 0
	for _, v := range s {
		total += int(v)
	}
	return total
}
