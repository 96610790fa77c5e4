package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automation-core/internal/metadata"
)

func TestCustomCodecDecodeContentChain(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		content string
		tokens  int
	}{
		{"content field", `{"content":"a","tokens":3}`, "a", 3},
		{"text field", `{"text":"b"}`, "b", 0},
		{"response field", `{"response":"c","usage":{"total_tokens":4}}`, "c", 4},
		{"chat shape", `{"choices":[{"message":{"content":"d"}}]}`, "d", 0},
		{"completion shape", `{"choices":[{"text":"e"}],"token_count":2}`, "e", 2},
		{"gemini shape", `{"candidates":[{"content":{"parts":[{"text":"f"}]}}]}`, "f", 0},
		{"claude shape", `{"content":[{"type":"text","text":"g"}]}`, "g", 0},
		{"empty content falls through", `{"content":"","output":"h"}`, "h", 0},
		{"unknown json shape", `{"foo":"bar"}`, `{"foo":"bar"}`, 0},
		{"plain text", "  just text \n", "just text", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, tokens, err := customCodec{}.Decode([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.content, content)
			assert.Equal(t, tt.tokens, tokens)
		})
	}
}

func TestCustomCodecDecodeError(t *testing.T) {
	c := customCodec{}
	assert.Equal(t, "nested", c.DecodeError([]byte(`{"error":{"message":"nested"}}`)))
	assert.Equal(t, "flat", c.DecodeError([]byte(`{"error":"flat"}`)))
	assert.Equal(t, "msg", c.DecodeError([]byte(`{"message":"msg"}`)))
	assert.Equal(t, "det", c.DecodeError([]byte(`{"detail":"det"}`)))
	assert.Empty(t, c.DecodeError([]byte(`not json`)))
}

func TestCustomCodecEncodeMergesExtra(t *testing.T) {
	p := &metadata.Provider{Model: "m", MaxTokens: 50, Temperature: 0.3}
	body, err := customCodec{}.Encode(p, "hi", Options{
		SystemPrompt: "sys",
		TopK:         Int(4),
		Extra:        map[string]any{"seed": 7, "model": "override"},
	})
	require.NoError(t, err)

	m := body.(map[string]any)
	assert.Equal(t, "hi", m["prompt"])
	assert.Equal(t, "override", m["model"])
	assert.Equal(t, 50, m["max_tokens"])
	assert.Equal(t, 0.3, m["temperature"])
	assert.Equal(t, "sys", m["system_prompt"])
	assert.Equal(t, 4, m["top_k"])
	assert.Equal(t, 7, m["seed"])
}

func TestClaudeCodecDecode(t *testing.T) {
	content, tokens, err := claudeCodec{}.Decode([]byte(`{"content":[{"type":"text","text":"a"},{"type":"tool_use"},{"type":"text","text":"b"}],"usage":{"input_tokens":1,"output_tokens":2}}`))
	require.NoError(t, err)
	assert.Equal(t, "ab", content)
	assert.Equal(t, 3, tokens)

	_, _, err = claudeCodec{}.Decode([]byte(`{"content":[]}`))
	assert.Error(t, err)
}

func TestChatCodecDecodeRequiresChoices(t *testing.T) {
	_, _, err := chatCodec{}.Decode([]byte(`{"choices":[]}`))
	assert.Error(t, err)
}

func TestCodecForFamily(t *testing.T) {
	assert.IsType(t, chatCodec{}, codecFor(metadata.FamilyOpenAI))
	assert.IsType(t, chatCodec{}, codecFor(metadata.FamilyGrok))
	assert.IsType(t, geminiCodec{}, codecFor(metadata.FamilyGemini))
	assert.IsType(t, claudeCodec{}, codecFor(metadata.FamilyClaude))
	assert.IsType(t, customCodec{}, codecFor(metadata.ParseFamily("something-else")))
}

func TestStatusMessage(t *testing.T) {
	assert.Equal(t, "vendor says no", statusMessage(400, "vendor says no"))
	assert.Equal(t, "HTTP 429: Too Many Requests", statusMessage(429, ""))
}

func TestDecodeOptions(t *testing.T) {
	opts, err := DecodeOptions(map[string]any{
		"maxTokens":      200,
		"temperature":    0,
		"top_k":          "5",
		"systemPrompt":   "be nice",
		"stop_sequences": []any{"END"},
		"seed":           42,
	})
	require.NoError(t, err)
	assert.Equal(t, 200, opts.MaxTokens)
	require.NotNil(t, opts.Temperature)
	assert.Equal(t, 0.0, *opts.Temperature)
	require.NotNil(t, opts.TopK)
	assert.Equal(t, 5, *opts.TopK)
	assert.Nil(t, opts.TopP)
	assert.Equal(t, "be nice", opts.SystemPrompt)
	assert.Equal(t, []string{"END"}, opts.StopSequences)
	assert.Equal(t, map[string]any{"seed": 42}, opts.Extra)

	empty, err := DecodeOptions(nil)
	require.NoError(t, err)
	assert.Nil(t, empty.Temperature)
}

func TestOptionDefaults(t *testing.T) {
	var o Options
	assert.Equal(t, DefaultMaxTokens, o.maxTokens(0))
	assert.Equal(t, 300, o.maxTokens(300))
	assert.Equal(t, 0.9, o.temperature(0.9))

	o = Options{MaxTokens: 10, Temperature: Float(0)}
	assert.Equal(t, 10, o.maxTokens(300))
	assert.Equal(t, 0.0, o.temperature(0.9))
}
