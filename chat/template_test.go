package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/go-preference/tokenizers/api"
)

func TestDefaultTemplate(t *testing.T) {
	tmpl := Default()
	got, err := tmpl.Render([]api.Message{
		{Role: "user", Content: "Hi"},
		{Role: "assistant", Content: "<response>Hello there"},
	})
	require.NoError(t, err)
	want := "<|im_start|>user\nHi<|im_end|>\n<|im_start|>assistant\n<response>Hello there<|im_end|>\n"
	assert.Equal(t, want, got)
}

func TestRenderPreservesContentBytes(t *testing.T) {
	// Markers embedded in a turn must survive rendering byte-for-byte.
	tmpl := Default()
	content := "<response>line1\nline2 \t spaced"
	got, err := tmpl.Render([]api.Message{{Role: "assistant", Content: content}})
	require.NoError(t, err)
	assert.Contains(t, got, content)
}

func TestNewInvalidTemplate(t *testing.T) {
	_, err := New("{{ range .Messages }}")
	assert.Error(t, err)
}

func TestCustomTemplate(t *testing.T) {
	tmpl, err := New("{{ range .Messages }}[{{ .Role }}] {{ .Content }} {{ end }}")
	require.NoError(t, err)
	got, err := tmpl.ApplyChatTemplate([]api.Message{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "[user] a [assistant] b ", got)
}
