package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"automation-core/internal/metadata"
)

// customCodec handles providers with no fixed schema. The request body is
// {prompt, model, max_tokens, temperature, system_prompt?, top_p?, top_k?,
// stop?} with Options.Extra merged over it.
type customCodec struct{}

// Response fields tried, in order, for the generated text. If none holds
// a non-empty string the whole body is returned as the content.
var customContentPaths = [][]any{
	{"content"},
	{"text"},
	{"response"},
	{"output"},
	{"result"},
	{"choices", 0, "message", "content"},
	{"choices", 0, "text"},
	{"candidates", 0, "content", "parts", 0, "text"},
	{"content", 0, "text"},
}

// Response fields tried, in order, for the token count.
var customTokenPaths = [][]any{
	{"usage", "total_tokens"},
	{"tokens"},
	{"token_count"},
}

func (customCodec) Encode(p *metadata.Provider, prompt string, opts Options) (any, error) {
	body := map[string]any{
		"prompt":      prompt,
		"model":       p.Model,
		"max_tokens":  opts.maxTokens(p.MaxTokens),
		"temperature": opts.temperature(p.Temperature),
	}
	if opts.SystemPrompt != "" {
		body["system_prompt"] = opts.SystemPrompt
	}
	if opts.TopP != nil {
		body["top_p"] = *opts.TopP
	}
	if opts.TopK != nil {
		body["top_k"] = *opts.TopK
	}
	if len(opts.StopSequences) > 0 {
		body["stop"] = opts.StopSequences
	}
	for k, v := range opts.Extra {
		body[k] = v
	}
	return body, nil
}

func (customCodec) Prepare(ctx context.Context, p *metadata.Provider, body []byte) (*http.Request, error) {
	req, err := newJSONRequest(ctx, p.URL, p, body)
	if err != nil {
		return nil, err
	}
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}
	return req, nil
}

func (customCodec) Decode(body []byte) (string, int, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		// Not JSON: the raw text is the content.
		return strings.TrimSpace(string(body)), 0, nil
	}

	content := ""
	for _, path := range customContentPaths {
		if s, ok := lookup(doc, path).(string); ok && s != "" {
			content = s
			break
		}
	}
	if content == "" {
		content = string(body)
	}

	tokens := 0
	for _, path := range customTokenPaths {
		if n, ok := lookup(doc, path).(float64); ok {
			tokens = int(n)
			break
		}
	}
	return content, tokens, nil
}

func (customCodec) DecodeError(body []byte) string {
	var doc any
	if json.Unmarshal(body, &doc) != nil {
		return ""
	}
	for _, path := range [][]any{{"error", "message"}, {"error"}, {"message"}, {"detail"}} {
		if s, ok := lookup(doc, path).(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// lookup walks doc along path, where string elements index objects and int
// elements index arrays. It returns nil when any step is missing.
func lookup(doc any, path []any) any {
	cur := doc
	for _, step := range path {
		switch key := step.(type) {
		case string:
			m, ok := cur.(map[string]any)
			if !ok {
				return nil
			}
			cur = m[key]
		case int:
			arr, ok := cur.([]any)
			if !ok || key >= len(arr) {
				return nil
			}
			cur = arr[key]
		}
	}
	return cur
}
