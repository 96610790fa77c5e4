package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"automation-core/internal/metadata"
)

// AnthropicVersion is sent with every messages request.
const AnthropicVersion = "2023-06-01"

// claudeCodec speaks the messages format.
type claudeCodec struct{}

type claudeRequest struct {
	Model         string          `json:"model"`
	MaxTokens     int             `json:"max_tokens"`
	Temperature   float64         `json:"temperature"`
	System        string          `json:"system,omitempty"`
	Messages      []claudeMessage `json:"messages"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (claudeCodec) Encode(p *metadata.Provider, prompt string, opts Options) (any, error) {
	return claudeRequest{
		Model:         p.Model,
		MaxTokens:     opts.maxTokens(p.MaxTokens),
		Temperature:   opts.temperature(p.Temperature),
		System:        opts.SystemPrompt,
		Messages:      []claudeMessage{{Role: "user", Content: prompt}},
		TopP:          opts.TopP,
		TopK:          opts.TopK,
		StopSequences: opts.StopSequences,
	}, nil
}

func (claudeCodec) Prepare(ctx context.Context, p *metadata.Provider, body []byte) (*http.Request, error) {
	req, err := newJSONRequest(ctx, strings.TrimRight(p.URL, "/"), p, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", p.APIKey)
	req.Header.Set("anthropic-version", AnthropicVersion)
	return req, nil
}

func (claudeCodec) Decode(body []byte) (string, int, error) {
	var resp claudeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", 0, err
	}
	if len(resp.Content) == 0 {
		return "", 0, errors.New("response contained no content blocks")
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "" || block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), resp.Usage.InputTokens + resp.Usage.OutputTokens, nil
}

func (claudeCodec) DecodeError(body []byte) string {
	return decodeVendorError(body)
}
