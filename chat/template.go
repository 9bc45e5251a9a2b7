// Package chat renders role-tagged message lists into the flat strings a model
// is trained on, using Go text templates over a {Messages} payload.
package chat

import (
	"strings"
	"text/template"

	"github.com/pkg/errors"

	"github.com/gomlx/go-preference/tokenizers/api"
)

// Template is a parsed chat template. It is immutable after construction and
// safe for concurrent use.
type Template struct {
	tmpl *template.Template
}

// Values is the payload a template executes against.
type Values struct {
	Messages []api.Message
}

// defaultTemplate is a ChatML-style rendering. Message content is emitted
// verbatim, so markers embedded in a turn (like a response delimiter) survive
// rendering byte-for-byte.
const defaultTemplate = `{{- range .Messages }}<|im_start|>{{ .Role }}
{{ .Content }}<|im_end|>
{{ end -}}`

// New parses a chat template from its text form.
func New(text string) (*Template, error) {
	tmpl, err := template.New("chat").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse chat template")
	}
	return &Template{tmpl: tmpl}, nil
}

// Default returns the built-in ChatML-style template.
func Default() *Template {
	tmpl, err := New(defaultTemplate)
	if err != nil {
		// The default template is a compile-time constant.
		panic(err)
	}
	return tmpl
}

// Render executes the template over the given messages.
func (t *Template) Render(messages []api.Message) (string, error) {
	var sb strings.Builder
	if err := t.tmpl.Execute(&sb, Values{Messages: messages}); err != nil {
		return "", errors.Wrapf(err, "failed to render chat template")
	}
	return sb.String(), nil
}

// ApplyChatTemplate implements api.ChatTemplater.
func (t *Template) ApplyChatTemplate(messages []api.Message) (string, error) {
	return t.Render(messages)
}

// Compile time assert that Template implements api.ChatTemplater.
var _ api.ChatTemplater = &Template{}
