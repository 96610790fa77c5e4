package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"automation-core/internal/metadata"
)

// geminiCodec speaks the generateContent format. The key travels in the
// query string.
type geminiCodec struct{}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens"`
	Temperature     float64  `json:"temperature"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (geminiCodec) Encode(p *metadata.Provider, prompt string, opts Options) (any, error) {
	req := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			MaxOutputTokens: opts.maxTokens(p.MaxTokens),
			Temperature:     opts.temperature(p.Temperature),
			TopP:            opts.TopP,
			TopK:            opts.TopK,
			StopSequences:   opts.StopSequences,
		},
	}
	if opts.SystemPrompt != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: opts.SystemPrompt}}}
	}
	return req, nil
}

func (geminiCodec) Prepare(ctx context.Context, p *metadata.Provider, body []byte) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s",
		strings.TrimRight(p.URL, "/"), p.Model, url.QueryEscape(p.APIKey))
	return newJSONRequest(ctx, endpoint, p, body)
}

func (geminiCodec) Decode(body []byte) (string, int, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", 0, err
	}
	if len(resp.Candidates) == 0 {
		return "", 0, errors.New("response contained no candidates")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), resp.UsageMetadata.TotalTokenCount, nil
}

func (geminiCodec) DecodeError(body []byte) string {
	return decodeVendorError(body)
}
