package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"automation-core/internal/metadata"
)

// chatCodec speaks the chat-completions format used by OpenAI and Grok.
type chatCodec struct{}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (chatCodec) Encode(p *metadata.Provider, prompt string, opts Options) (any, error) {
	var messages []chatMessage
	if opts.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: opts.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	return chatRequest{
		Model:       p.Model,
		Messages:    messages,
		MaxTokens:   opts.maxTokens(p.MaxTokens),
		Temperature: opts.temperature(p.Temperature),
		TopP:        opts.TopP,
		Stop:        opts.StopSequences,
	}, nil
}

func (chatCodec) Prepare(ctx context.Context, p *metadata.Provider, body []byte) (*http.Request, error) {
	req, err := newJSONRequest(ctx, strings.TrimRight(p.URL, "/"), p, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	return req, nil
}

func (chatCodec) Decode(body []byte) (string, int, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", 0, err
	}
	if len(resp.Choices) == 0 {
		return "", 0, errors.New("response contained no choices")
	}
	return resp.Choices[0].Message.Content, resp.Usage.TotalTokens, nil
}

func (chatCodec) DecodeError(body []byte) string {
	return decodeVendorError(body)
}
