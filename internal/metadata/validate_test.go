package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func issueFields(issues []FieldIssue) map[string]string {
	out := make(map[string]string, len(issues))
	for _, is := range issues {
		out[is.Field] = is.Rule
	}
	return out
}

func TestValidateEndpoint(t *testing.T) {
	valid := &Endpoint{
		Name:          "CRM",
		URL:           "https://crm.example.com/hook",
		Events:        []string{EventContactAdded, EventTestWebhook},
		RetryAttempts: 3,
	}
	assert.Empty(t, ValidateEndpoint(valid))

	invalid := &Endpoint{
		URL:           "not a url",
		Events:        []string{EventPostCreated, "post.deleted"},
		RetryAttempts: 11,
		Timeout:       -1,
	}
	fields := issueFields(ValidateEndpoint(invalid))
	assert.Equal(t, "required", fields["name"])
	assert.Equal(t, "url", fields["url"])
	assert.Equal(t, "knownevent", fields["events[1]"])
	assert.Equal(t, "lte", fields["retry_attempts"])
	assert.Equal(t, "gte", fields["timeout"])

	assert.Equal(t, "min", issueFields(ValidateEndpoint(&Endpoint{Name: "x", URL: "https://x.io", Events: []string{}}))["events"])
}

func TestValidateProvider(t *testing.T) {
	p := &Provider{ID: "openai", Name: "OpenAI", URL: "https://api.openai.com/v1/chat/completions", Temperature: 0.7}
	assert.Empty(t, ValidateProvider(p))

	p.Temperature = 2.5
	p.URL = ""
	fields := issueFields(ValidateProvider(p))
	assert.Equal(t, "lte", fields["temperature"])
	assert.Equal(t, "required", fields["url"])
}

func TestIsKnownEvent(t *testing.T) {
	for _, e := range KnownEvents {
		assert.True(t, IsKnownEvent(e), e)
	}
	assert.False(t, IsKnownEvent("Post.Created"))
}
