package payload

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_ChatMessages(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4o",
		"temperature": 0.2,
		"messages": [
			{"role": "system", "content": "You are helpful."},
			{"role": "user", "content": "My email is john@example.com"}
		]
	}`)

	ex, err := Extract(body, "application/json")
	require.NoError(t, err)
	assert.Equal(t, KindMessages, ex.Kind)
	assert.Equal(t, []string{"You are helpful.", "My email is john@example.com"}, ex.Parts)

	out, err := ex.Reassemble([]string{"You are helpful.", "My email is [CONFIDENTIAL_EMAIL_ADDRESS_1]"})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))

	// Redacted text landed in place, everything else survived.
	messages := doc["messages"].([]any)
	assert.Equal(t, "My email is [CONFIDENTIAL_EMAIL_ADDRESS_1]",
		messages[1].(map[string]any)["content"])
	assert.Equal(t, "user", messages[1].(map[string]any)["role"])
	assert.Equal(t, "gpt-4o", doc["model"])
	assert.Equal(t, 0.2, doc["temperature"])
}

func TestExtract_TypedContentParts(t *testing.T) {
	body := []byte(`{
		"messages": [
			{"role": "user", "content": [
				{"type": "text", "text": "Describe this image of Jane Roe"},
				{"type": "image_url", "image_url": {"url": "https://example.com/a.png"}},
				{"type": "text", "text": "and email jane@example.com"}
			]}
		]
	}`)

	ex, err := Extract(body, "application/json")
	require.NoError(t, err)
	require.Equal(t, KindMessages, ex.Kind)
	assert.Equal(t, []string{
		"Describe this image of Jane Roe",
		"and email jane@example.com",
	}, ex.Parts)

	out, err := ex.Reassemble([]string{"part one", "part two"})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	parts := doc["messages"].([]any)[0].(map[string]any)["content"].([]any)
	assert.Equal(t, "part one", parts[0].(map[string]any)["text"])
	assert.Equal(t, "part two", parts[2].(map[string]any)["text"])

	// Non-text parts pass through untouched.
	image := parts[1].(map[string]any)
	assert.Equal(t, "image_url", image["type"])
	assert.Equal(t, "https://example.com/a.png",
		image["image_url"].(map[string]any)["url"])
}

func TestExtract_PromptField(t *testing.T) {
	body := []byte(`{"model": "davinci", "prompt": "Call 123-456-7890", "max_tokens": 50}`)

	ex, err := Extract(body, "application/json")
	require.NoError(t, err)
	assert.Equal(t, KindPrompt, ex.Kind)
	assert.Equal(t, []string{"Call 123-456-7890"}, ex.Parts)

	out, err := ex.Reassemble([]string{"Call [CONFIDENTIAL_PHONE_NUMBER_1]"})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "Call [CONFIDENTIAL_PHONE_NUMBER_1]", doc["prompt"])
	assert.Equal(t, "davinci", doc["model"])
	assert.Equal(t, float64(50), doc["max_tokens"])
}

func TestExtract_RawText(t *testing.T) {
	body := []byte("just some plain text with john@example.com")

	ex, err := Extract(body, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, KindRaw, ex.Kind)
	assert.Equal(t, []string{string(body)}, ex.Parts)

	out, err := ex.Reassemble([]string{"just some plain text with [CONFIDENTIAL_EMAIL_ADDRESS_1]"})
	require.NoError(t, err)
	assert.Equal(t, "just some plain text with [CONFIDENTIAL_EMAIL_ADDRESS_1]", string(out))
}

func TestExtract_MalformedJSONFallsBackToRaw(t *testing.T) {
	body := []byte(`{"messages": [truncated`)

	ex, err := Extract(body, "application/json")
	require.NoError(t, err)
	assert.Equal(t, KindRaw, ex.Kind)
	assert.Equal(t, []string{string(body)}, ex.Parts)
}

func TestExtract_JSONWithoutRecognizedShape(t *testing.T) {
	body := []byte(`{"input": "embedding text", "model": "ada"}`)

	ex, err := Extract(body, "application/json")
	require.NoError(t, err)
	assert.Equal(t, KindRaw, ex.Kind)
	assert.Equal(t, []string{string(body)}, ex.Parts)
}

func TestExtract_EmptyBody(t *testing.T) {
	ex, err := Extract(nil, "")
	require.NoError(t, err)
	assert.Equal(t, KindRaw, ex.Kind)
	assert.Empty(t, ex.Parts)

	out, err := ex.Reassemble(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestExtract_MessagesWithOddContent(t *testing.T) {
	// Null content and non-object messages are skipped, not fatal.
	body := []byte(`{
		"messages": [
			{"role": "assistant", "content": null},
			"not an object",
			{"role": "user", "content": "real text"}
		]
	}`)

	ex, err := Extract(body, "application/json")
	require.NoError(t, err)
	assert.Equal(t, KindMessages, ex.Kind)
	assert.Equal(t, []string{"real text"}, ex.Parts)

	out, err := ex.Reassemble([]string{"redacted text"})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	messages := doc["messages"].([]any)
	assert.Nil(t, messages[0].(map[string]any)["content"])
	assert.Equal(t, "not an object", messages[1])
	assert.Equal(t, "redacted text", messages[2].(map[string]any)["content"])
}

func TestFromFileText(t *testing.T) {
	ex := FromFileText("row 1: John Doe, john@example.com")
	assert.Equal(t, KindFileText, ex.Kind)
	require.Len(t, ex.Parts, 1)

	out, err := ex.Reassemble([]string{"row 1: [CONFIDENTIAL_PERSON_1], [CONFIDENTIAL_EMAIL_ADDRESS_1]"})
	require.NoError(t, err)
	assert.Equal(t, "row 1: [CONFIDENTIAL_PERSON_1], [CONFIDENTIAL_EMAIL_ADDRESS_1]", string(out))
}

func TestReassemble_PartCountMismatch(t *testing.T) {
	ex, err := Extract([]byte(`{"prompt": "hi"}`), "application/json")
	require.NoError(t, err)

	_, err = ex.Reassemble([]string{"a", "b"})
	assert.Error(t, err)
}
