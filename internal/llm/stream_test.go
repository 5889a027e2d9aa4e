package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloStream = "data: {\"type\":\"response.created\",\"response\":{\"id\":\"resp_9\"}}\n\n" +
	": keepalive\n\n" +
	"data: not json\n\n" +
	"event: response.output_text.delta\n" +
	"data: {\"type\":\"response.output_text.delta\",\"delta\":\"Hel\"}\n\n" +
	"data:{\"type\":\"response.output_text.delta\",\"delta\":\"lo\"}\r\n\r\n" +
	"data: {\"type\":\"response.completed\",\"response\":{\"id\":\"resp_9\",\"usage\":{\"input_tokens\":5,\"output_tokens\":2}}}\n\n"

type callbackLog struct {
	starts    int
	tokens    []string
	completed []string
	errs      []error
}

func (l *callbackLog) callbacks() StreamCallbacks {
	return StreamCallbacks{
		OnStart:    func() { l.starts++ },
		OnToken:    func(delta string) { l.tokens = append(l.tokens, delta) },
		OnComplete: func(full string) { l.completed = append(l.completed, full) },
		OnError:    func(err error) { l.errs = append(l.errs, err) },
	}
}

func sseHandler(t *testing.T, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, true, req["stream"])
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, body)
	}
}

func TestCompleteStreamingDeliversDeltasInOrder(t *testing.T) {
	sink := &usageSink{}
	client := newTestClient(t, sseHandler(t, helloStream), sink, 1)

	log := &callbackLog{}
	res, err := client.CompleteStreaming(context.Background(), []Message{UserMessage("hi")}, Options{CallType: "technical_response"}, log.callbacks())
	require.NoError(t, err)

	assert.Equal(t, "Hello", res.Text)
	assert.Equal(t, "resp_9", res.ResponseID)
	assert.Equal(t, 1, log.starts)
	assert.Equal(t, []string{"Hel", "lo"}, log.tokens)
	assert.Equal(t, []string{"Hello"}, log.completed)
	assert.Empty(t, log.errs)

	entries := sink.all()
	require.Len(t, entries, 2)
	assert.Equal(t, 5, entries[0].TokenCount)
	assert.Equal(t, 2, entries[1].TokenCount)
	assert.Equal(t, "Hello", entries[1].Message)
}

func TestCompleteWithStreamFlagMatchesStreamingText(t *testing.T) {
	client := newTestClient(t, sseHandler(t, helloStream), nil, 1)

	res, err := client.Complete(context.Background(), []Message{UserMessage("hi")}, Options{Stream: true})
	require.NoError(t, err)
	assert.Equal(t, "Hello", res.Text)
}

func TestCompleteStreamingTerminalFailures(t *testing.T) {
	cases := map[string]struct {
		body string
		want string
	}{
		"truncated": {
			"data: {\"type\":\"response.output_text.delta\",\"delta\":\"Hel\"}\n\n",
			"stream ended before completion",
		},
		"failed event": {
			"data: {\"type\":\"response.output_text.delta\",\"delta\":\"Hel\"}\n\n" +
				"data: {\"type\":\"response.failed\",\"response\":{\"error\":{\"message\":\"overloaded\"}}}\n\n",
			"response failed: overloaded",
		},
		"incomplete event": {
			"data: {\"type\":\"response.incomplete\",\"response\":{\"incomplete_details\":{\"reason\":\"max_output_tokens\"}}}\n\n",
			"response incomplete: max_output_tokens",
		},
		"error event": {
			"data: {\"type\":\"error\",\"message\":\"bad things\"}\n\n",
			"stream error: bad things",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			sink := &usageSink{}
			client := newTestClient(t, sseHandler(t, tc.body), sink, 1)

			log := &callbackLog{}
			res, err := client.CompleteStreaming(context.Background(), []Message{UserMessage("hi")}, Options{}, log.callbacks())
			require.Error(t, err)
			assert.Nil(t, res)
			assert.Contains(t, err.Error(), tc.want)

			assert.Equal(t, 1, log.starts)
			assert.Empty(t, log.completed)
			require.Len(t, log.errs, 1)
			assert.Equal(t, err, log.errs[0])
			assert.Empty(t, sink.all())
		})
	}
}

func TestCompleteStreamingOpenFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key"}}`)
	}, nil, 1)

	log := &callbackLog{}
	_, err := client.CompleteStreaming(context.Background(), []Message{UserMessage("hi")}, Options{}, log.callbacks())

	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusUnauthorized, ue.StatusCode)
	assert.Equal(t, 0, log.starts)
	assert.Empty(t, log.completed)
	assert.Len(t, log.errs, 1)
}

func TestReadStreamSkipsNonDataLines(t *testing.T) {
	body := strings.Join([]string{
		"id: 1",
		"data: [DONE]",
		"data: {\"type\":\"response.output_text.delta\",\"delta\":\"a\"}",
		"data: {\"type\":\"response.output_text.delta\",\"delta\":\"b\"",
		"data: {\"type\":\"response.completed\",\"response\":{}}",
		"",
	}, "\n")

	var tokens []string
	out, err := readStream(strings.NewReader(body), func(d string) { tokens = append(tokens, d) })
	require.NoError(t, err)
	assert.Equal(t, "a", out.text)
	assert.Equal(t, []string{"a"}, tokens)
	assert.False(t, out.usage.Present)
}

func TestDataPayload(t *testing.T) {
	p, ok := dataPayload("data: {\"a\":1}\r\n")
	assert.True(t, ok)
	assert.Equal(t, `{"a":1}`, p)

	_, ok = dataPayload("event: response.created\n")
	assert.False(t, ok)

	_, ok = dataPayload("data: [DONE]\n")
	assert.False(t, ok)
}
