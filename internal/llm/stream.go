package llm

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	eventCreated    = "response.created"
	eventDelta      = "response.output_text.delta"
	eventCompleted  = "response.completed"
	eventFailed     = "response.failed"
	eventIncomplete = "response.incomplete"
	eventError      = "error"
)

type streamOutcome struct {
	text       string
	responseID string
	usage      tokenUsage
}

// readStream consumes a server-sent event body until a terminal event. Deltas are forwarded to
// onToken in arrival order. Lines that are not valid JSON data payloads are skipped.
func readStream(body io.Reader, onToken func(string)) (*streamOutcome, error) {
	reader := bufio.NewReader(body)
	out := &streamOutcome{}
	var full strings.Builder

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// A trailing fragment without a newline is never a complete event.
			if errors.Is(err, io.EOF) {
				return nil, upstreamf(opResponses, "stream ended before completion")
			}
			return nil, &UpstreamError{Op: opResponses, Message: "stream read failed", Err: err}
		}

		payload, ok := dataPayload(line)
		if !ok || !gjson.Valid(payload) {
			continue
		}
		event := gjson.Parse(payload)

		switch event.Get("type").String() {
		case eventCreated:
			out.responseID = event.Get("response.id").String()
		case eventDelta:
			delta := event.Get("delta").String()
			full.WriteString(delta)
			if onToken != nil {
				onToken(delta)
			}
		case eventCompleted:
			if out.responseID == "" {
				out.responseID = event.Get("response.id").String()
			}
			out.text = full.String()
			out.usage = usageFrom(event.Get("response.usage"))
			return out, nil
		case eventFailed:
			return nil, upstreamf(opResponses, "response failed: %s",
				orDefault(event.Get("response.error.message").String(), "Unknown error"))
		case eventIncomplete:
			return nil, upstreamf(opResponses, "response incomplete: %s",
				orDefault(event.Get("response.incomplete_details.reason").String(), "Unknown reason"))
		case eventError:
			return nil, upstreamf(opResponses, "stream error: %s",
				orDefault(event.Get("message").String(), "Unknown error"))
		}
	}
}

func dataPayload(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "" || payload == "[DONE]" {
		return "", false
	}
	return payload, true
}
