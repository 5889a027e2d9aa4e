package llm

import (
	"strings"

	"github.com/tidwall/gjson"
)

type responsesRequest struct {
	Model              string  `json:"model"`
	Input              string  `json:"input"`
	Instructions       string  `json:"instructions,omitempty"`
	Temperature        float64 `json:"temperature"`
	MaxOutputTokens    int     `json:"max_output_tokens"`
	Stream             bool    `json:"stream"`
	PreviousResponseID string  `json:"previous_response_id,omitempty"`
}

type tokenUsage struct {
	InputTokens  int
	OutputTokens int
	Present      bool
}

// formatInput flattens a conversation into the "Role: content" transcript the endpoint expects.
// System messages are dropped; instructions carry system-level direction.
func formatInput(messages []Message) string {
	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			continue
		case RoleUser:
			parts = append(parts, "User: "+msg.Content)
		default:
			parts = append(parts, "Assistant: "+msg.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

func usageFrom(node gjson.Result) tokenUsage {
	if !node.Exists() {
		return tokenUsage{}
	}
	return tokenUsage{
		InputTokens:  int(node.Get("input_tokens").Int()),
		OutputTokens: int(node.Get("output_tokens").Int()),
		Present:      true,
	}
}

func upstreamMessage(body []byte, fallback string) string {
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "error.message").String(); msg != "" {
			return msg
		}
	}
	return fallback
}

// parseResponse validates a non-streaming response body and extracts its text.
func parseResponse(body []byte) (text, id string, usage tokenUsage, err error) {
	if !gjson.ValidBytes(body) {
		return "", "", usage, upstreamf(opResponses, "response body is not valid JSON")
	}
	doc := gjson.ParseBytes(body)

	switch doc.Get("status").String() {
	case "failed":
		return "", "", usage, upstreamf(opResponses, "response failed: %s",
			orDefault(doc.Get("error.message").String(), "Unknown error"))
	case "incomplete":
		return "", "", usage, upstreamf(opResponses, "response incomplete: %s",
			orDefault(doc.Get("incomplete_details.reason").String(), "Unknown reason"))
	}

	text, err = extractText(doc)
	if err != nil {
		return "", "", usage, err
	}
	return text, doc.Get("id").String(), usageFrom(doc.Get("usage")), nil
}

// extractText collects output_text parts from message items. Non-message items such as
// reasoning or tool calls are skipped; a top-level output_text string is accepted as a fallback.
func extractText(doc gjson.Result) (string, error) {
	output := doc.Get("output")
	if !output.IsArray() || len(output.Array()) == 0 {
		if s := doc.Get("output_text"); s.Type == gjson.String && s.String() != "" {
			return s.String(), nil
		}
		return "", upstreamf(opResponses, "no output received")
	}

	var sb strings.Builder
	sawMessage := false
	for _, item := range output.Array() {
		if item.Get("type").String() != "message" {
			continue
		}
		sawMessage = true
		for _, part := range item.Get("content").Array() {
			if part.Get("type").String() == "output_text" {
				sb.WriteString(part.Get("text").String())
			}
		}
	}

	if !sawMessage {
		return "", upstreamf(opResponses, "unexpected output type, no message item")
	}
	if sb.Len() == 0 {
		return "", upstreamf(opResponses, "no text content found in response")
	}
	return sb.String(), nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
