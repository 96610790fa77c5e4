package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"automation-core/internal/metadata"
)

// Codec translates between the normalized request/result and one provider
// family's wire format.
type Codec interface {
	// Encode builds the provider-native request body.
	Encode(p *metadata.Provider, prompt string, opts Options) (any, error)
	// Prepare builds the HTTP request carrying body, including the
	// family's auth scheme.
	Prepare(ctx context.Context, p *metadata.Provider, body []byte) (*http.Request, error)
	// Decode extracts generated text and token usage from a success body.
	Decode(body []byte) (content string, tokens int, err error)
	// DecodeError returns the vendor's error message, or "" when the body
	// carries none.
	DecodeError(body []byte) string
}

// codecFor selects the codec for a provider family.
func codecFor(f metadata.Family) Codec {
	switch f {
	case metadata.FamilyOpenAI, metadata.FamilyGrok:
		return chatCodec{}
	case metadata.FamilyGemini:
		return geminiCodec{}
	case metadata.FamilyClaude:
		return claudeCodec{}
	case metadata.FamilyCustom:
		return customCodec{}
	default:
		return customCodec{}
	}
}

// newJSONRequest builds a POST with the JSON content type and the
// provider's extra headers. Codecs add their auth headers afterwards so
// extra headers cannot replace credentials.
func newJSONRequest(ctx context.Context, url string, p *metadata.Provider, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// statusMessage formats the fallback error for a non-success response.
func statusMessage(status int, vendorMsg string) string {
	if vendorMsg != "" {
		return vendorMsg
	}
	return fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status))
}

// vendorError understands the {"error": {"message": ...}} shape shared by
// OpenAI, Grok, Gemini and Claude.
type vendorError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func decodeVendorError(body []byte) string {
	var ve vendorError
	if json.Unmarshal(body, &ve) == nil {
		return strings.TrimSpace(ve.Error.Message)
	}
	return ""
}
