// Package api defines the tokenizer capability surface consumed by the preference
// encoder.
// It's just a hack to break the cyclic dependency, and allow the users to import
// `tokenizers` and get the default implementations.
//
// Instead of probing tokenizer objects for optional methods and attributes, the
// calling harness decides the capabilities once and hands the encoder an explicit
// Capabilities descriptor next to the Tokenizer itself.
package api

// Tokenizer converts text to "tokens" (integer ids).
//
// Implementations must be deterministic: the same text always maps to the same
// id sequence. They must also be safe for concurrent use, or the harness must
// hand one instance to each worker.
type Tokenizer interface {
	Encode(text string) []int

	// ConvertTokenToID returns the id of a single token string (e.g. a special
	// token like "<sep>"), or an error if the token is not in the vocabulary.
	ConvertTokenToID(token string) (int, error)
}

// Message is one role-tagged turn of a conversation, the unit consumed by chat
// templates.
type Message struct {
	Role    string
	Content string
}

// ChatTemplater renders a list of messages into the single string the model is
// trained on. Rendering never tokenizes and never appends a generation prompt;
// it corresponds to apply_chat_template(..., tokenize=false,
// add_generation_prompt=false) on HuggingFace tokenizers.
type ChatTemplater interface {
	ApplyChatTemplate(messages []Message) (string, error)
}

// Capabilities describes tokenizer behaviors the encoder must branch on.
// The harness fills it once at construction time.
type Capabilities struct {
	// SupportsChatTemplate reports whether the tokenizer family ships its own
	// chat template. When false the harness supplies a ChatTemplater itself.
	SupportsChatTemplate bool

	// AddsBOSToken reports whether Encode already prepends the
	// beginning-of-sequence token. When false the encoder prepends it manually.
	AddsBOSToken bool

	// HasBOSTokenID reports whether BOSTokenID is meaningful. When false the
	// encoder falls back to the end-of-sequence id.
	HasBOSTokenID bool
	BOSTokenID    int
}
