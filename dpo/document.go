package dpo

import "strings"

// SpanKind tags a span of a source document with its role in the preference
// pair.
type SpanKind string

const (
	SpanPrompt   SpanKind = "prompt"
	SpanChosen   SpanKind = "chosen"
	SpanRejected SpanKind = "rejected"
)

// Span is one typed text payload of a source document.
type Span struct {
	Kind SpanKind
	Text string
}

// Document is the ordered list of spans of one preference document. It is
// consumed once per Encode call and never mutated.
type Document []Span

// NewDocument builds the common three-span document.
func NewDocument(prompt, chosen, rejected string) Document {
	return Document{
		{Kind: SpanPrompt, Text: prompt},
		{Kind: SpanChosen, Text: chosen},
		{Kind: SpanRejected, Text: rejected},
	}
}

// extract scans the document for the prompt/chosen/rejected spans, trimming
// surrounding whitespace. The delimiter is prepended to present chosen and
// rejected spans so their response boundary can be recovered after chat
// templating; spans that are missing entirely stay empty.
func (d Document) extract(delimiter string) (prompt, chosen, rejected string) {
	for _, span := range d {
		switch span.Kind {
		case SpanPrompt:
			prompt = strings.TrimSpace(span.Text)
		case SpanChosen:
			chosen = delimiter + strings.TrimSpace(span.Text)
		case SpanRejected:
			rejected = delimiter + strings.TrimSpace(span.Text)
		}
	}
	return prompt, chosen, rejected
}
