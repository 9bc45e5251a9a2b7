package dpo

import (
	"github.com/pkg/errors"
)

// TruncationMode selects which side of an over-budget prompt survives
// truncation.
type TruncationMode int

const (
	// TruncateKeepTail keeps the last MaxPromptLength prompt tokens, nearest
	// the response. This is the default.
	TruncateKeepTail TruncationMode = iota
	// TruncateKeepHead keeps the first MaxPromptLength prompt tokens.
	TruncateKeepHead
)

// String implements fmt.Stringer.
func (m TruncationMode) String() string {
	switch m {
	case TruncateKeepTail:
		return "keep_tail"
	case TruncateKeepHead:
		return "keep_head"
	default:
		return "unknown"
	}
}

// Config holds the immutable encoder configuration. The zero value of every
// optional field selects its default; EOSID and PadID are set by the harness
// from the tokenizer.
type Config struct {
	// UseTextFixup enables Unicode fixup of the rendered strings using
	// TextFixupForm (default "NFC").
	UseTextFixup  bool
	TextFixupForm string

	// UseWikitextDetokenize additionally runs wikitext detokenization.
	UseWikitextDetokenize bool

	MaxSequenceLength int // default 2048
	MaxPromptLength   int // default 512

	// MinSequenceLen is accepted for config compatibility; it is reserved for
	// upstream filtering and not enforced here. Default 10.
	MinSequenceLen int

	// ResponseDelimiter marks the prompt/response boundary inside the rendered
	// chat string. Default "<response>".
	ResponseDelimiter string

	UserRole      string // default "user"
	AssistantRole string // default "assistant"

	// PromptTruncation selects the prompt truncation policy. Default
	// TruncateKeepTail.
	PromptTruncation TruncationMode

	// SepToken, when set, is resolved to an id through the tokenizer at
	// construction; resolution failure is a configuration error.
	SepToken string

	EOSID int
	PadID int
}

// withDefaults returns a copy with defaults filled in for unset fields.
func (c Config) withDefaults() Config {
	if c.TextFixupForm == "" {
		c.TextFixupForm = "NFC"
	}
	if c.MaxSequenceLength == 0 {
		c.MaxSequenceLength = 2048
	}
	if c.MaxPromptLength == 0 {
		c.MaxPromptLength = 512
	}
	if c.MinSequenceLen == 0 {
		c.MinSequenceLen = 10
	}
	if c.ResponseDelimiter == "" {
		c.ResponseDelimiter = "<response>"
	}
	if c.UserRole == "" {
		c.UserRole = "user"
	}
	if c.AssistantRole == "" {
		c.AssistantRole = "assistant"
	}
	return c
}

// validate checks the resolved configuration.
func (c Config) validate() error {
	if c.MaxSequenceLength < 2 {
		return errors.Errorf("MaxSequenceLength must be at least 2, got %d", c.MaxSequenceLength)
	}
	if c.MaxPromptLength <= 0 || c.MaxPromptLength >= c.MaxSequenceLength {
		return errors.Errorf("MaxPromptLength must be in (0, MaxSequenceLength), got %d with MaxSequenceLength %d",
			c.MaxPromptLength, c.MaxSequenceLength)
	}
	if c.PromptTruncation != TruncateKeepTail && c.PromptTruncation != TruncateKeepHead {
		return errors.Errorf("unknown truncation mode: %d", int(c.PromptTruncation))
	}
	return nil
}
