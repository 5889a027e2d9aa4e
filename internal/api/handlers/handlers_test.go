package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medcontent/backend/internal/forwarding"
	"github.com/medcontent/backend/internal/ingestion"
	"github.com/medcontent/backend/internal/llm"
	"github.com/medcontent/backend/internal/middleware/validation"
	"github.com/medcontent/backend/internal/rag"
	"github.com/medcontent/backend/internal/retrieval"
	"github.com/medcontent/backend/internal/usage"
)

type stubChat struct {
	got    rag.Request
	resp   *rag.Response
	err    error
	stream []string
}

func (s *stubChat) GetChatResponse(_ context.Context, req rag.Request) (*rag.Response, error) {
	s.got = req
	if cb := req.Callbacks; cb != nil {
		if s.err != nil {
			cb.OnError(s.err)
			return nil, s.err
		}
		cb.OnStart()
		for _, tok := range s.stream {
			cb.OnToken(tok)
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	require.NoError(t, err)

	var out map[string]interface{}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp.StatusCode, out
}

func newChatApp(chat ChatService) *fiber.App {
	app := fiber.New()
	h := NewChatHandler(chat, validation.Config{})
	app.Post("/chat", validation.Chat(validation.Config{}), h.HandleChat)
	app.Post("/chat-raw", h.HandleChat)
	return app
}

func TestHandleChatReturnsResponse(t *testing.T) {
	chat := &stubChat{resp: &rag.Response{
		Response:       "Asthma narrows the airways.",
		ConversationID: "conv_1_abc",
		Citations:      []retrieval.Citation{{Text: "asthma-basics", Link: "/blog/article/asthma-basics"}},
	}}
	app := newChatApp(chat)

	status, body := do(t, app, "POST", "/chat",
		`{"message":"What is asthma?","conversation_history":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, fiber.StatusOK, status)

	assert.Equal(t, "Asthma narrows the airways.", body["response"])
	assert.Equal(t, "conv_1_abc", body["conversationId"])
	assert.Len(t, body["citations"], 1)
	assert.Equal(t, "What is asthma?", chat.got.Message)
	assert.Equal(t, []llm.Message{llm.UserMessage("hi")}, chat.got.ConversationHistory)
	assert.Nil(t, chat.got.Callbacks)
}

func TestHandleChatValidatesWithoutMiddleware(t *testing.T) {
	app := newChatApp(&stubChat{})

	status, _ := do(t, app, "POST", "/chat-raw", `{"message":""}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestHandleChatMapsErrors(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
	}{
		"upstream": {&llm.UpstreamError{Op: "responses", StatusCode: 500, Message: "boom"}, fiber.StatusBadGateway},
		"invalid":  {&llm.InvalidInputError{Field: "message", Reason: "empty"}, fiber.StatusBadRequest},
		"other":    {errors.New("disk full"), fiber.StatusInternalServerError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			app := newChatApp(&stubChat{err: tc.err})
			status, body := do(t, app, "POST", "/chat-raw", `{"message":"hi"}`)
			assert.Equal(t, tc.status, status)
			assert.NotEmpty(t, body["error"])
		})
	}
}

type stubUsage struct {
	gotRange string
}

func (s *stubUsage) GetUsageStats(_ context.Context, timeRange string) (*usage.Stats, error) {
	s.gotRange = timeRange
	return &usage.Stats{
		Summary:        map[string]*usage.ModelUsage{"gpt-4o-mini": {InputTokens: 10, TotalTokens: 10, Cost: 0.0001}},
		GrandTotalCost: 0.0001,
	}, nil
}

func TestGetUsage(t *testing.T) {
	reporter := &stubUsage{}
	app := fiber.New()
	app.Get("/usage", NewUsageHandler(reporter).GetUsage)

	status, body := do(t, app, "GET", "/usage?range=week", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "week", reporter.gotRange)
	assert.Contains(t, body, "summary")

	status, _ = do(t, app, "GET", "/usage?range=decade", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

type stubIndexer struct {
	err error
}

func (s *stubIndexer) ProcessArticle(_ context.Context, a ingestion.Article) (*ingestion.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &ingestion.Result{Slug: a.Slug, Chunks: 2}, nil
}

func TestIndexArticle(t *testing.T) {
	app := fiber.New()
	app.Post("/articles", NewArticleHandler(&stubIndexer{}).IndexArticle)

	status, body := do(t, app, "POST", "/articles", `{"slug":"asthma","title":"Asthma","content":"text"}`)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "asthma", body["slug"])
	assert.EqualValues(t, 2, body["chunks"])

	app = fiber.New()
	app.Post("/articles", NewArticleHandler(&stubIndexer{err: &llm.InvalidInputError{Field: "slug", Reason: "required"}}).IndexArticle)
	status, _ = do(t, app, "POST", "/articles", `{"title":"Asthma"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

type stubForwarder struct {
	err error
}

func (s *stubForwarder) Send(context.Context, string, string) error {
	return s.err
}

func TestForward(t *testing.T) {
	cases := map[string]struct {
		forwarder *stubForwarder
		body      string
		status    int
	}{
		"ok":             {&stubForwarder{}, `{"extracted_text":"x","originalUrl":"https://a.org"}`, fiber.StatusOK},
		"missing text":   {&stubForwarder{}, `{"originalUrl":"https://a.org"}`, fiber.StatusBadRequest},
		"bad url":        {&stubForwarder{}, `{"extracted_text":"x","originalUrl":"nope"}`, fiber.StatusBadRequest},
		"not configured": {&stubForwarder{err: forwarding.ErrNotConfigured}, `{"extracted_text":"x","originalUrl":"https://a.org"}`, fiber.StatusServiceUnavailable},
		"webhook down":   {&stubForwarder{err: errors.New("503")}, `{"extracted_text":"x","originalUrl":"https://a.org"}`, fiber.StatusBadGateway},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			app := fiber.New()
			app.Post("/forward", NewForwardHandler(tc.forwarder).Forward)
			status, _ := do(t, app, "POST", "/forward", tc.body)
			assert.Equal(t, tc.status, status)
		})
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReady(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	app := fiber.New()
	app.Get("/ready", NewHealthHandler(map[string]Pinger{"sqlite": ok}).Ready)
	status, body := do(t, app, "GET", "/ready", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["ready"])

	app = fiber.New()
	app.Get("/ready", NewHealthHandler(map[string]Pinger{"sqlite": ok, "milvus": down}).Ready)
	status, body = do(t, app, "GET", "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "connection refused", body["checks"].(map[string]interface{})["milvus"])
}

type recordingWriter struct {
	frames []map[string]interface{}
}

func (r *recordingWriter) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	r.frames = append(r.frames, m)
	return nil
}

func (r *recordingWriter) types() []string {
	out := make([]string, len(r.frames))
	for i, f := range r.frames {
		out[i], _ = f["type"].(string)
	}
	return out
}

func TestServeMessageStreamsFrames(t *testing.T) {
	chat := &stubChat{
		stream: []string{"Hel", "lo"},
		resp: &rag.Response{
			Response:       "Hello",
			ConversationID: "conv_9_xyz",
			Citations:      []retrieval.Citation{{Text: "a", Link: "/blog/article/a"}},
		},
	}
	h := NewWebSocketHandler(chat, validation.Config{})
	w := &recordingWriter{}

	id := h.serveMessage(context.Background(), w, inboundMessage{Type: "chat", Message: "hi"})

	assert.Equal(t, "conv_9_xyz", id)
	assert.Equal(t, []string{"start", "token", "token", "complete"}, w.types())
	assert.Equal(t, "Hel", w.frames[1]["content"])
	assert.Equal(t, "Hello", w.frames[3]["content"])
	assert.Equal(t, "conv_9_xyz", w.frames[3]["conversationId"])
	assert.Len(t, w.frames[3]["citations"], 1)
	require.NotNil(t, chat.got.Callbacks)
}

func TestServeMessageErrors(t *testing.T) {
	h := NewWebSocketHandler(&stubChat{err: &llm.UpstreamError{Op: "responses", StatusCode: 500}}, validation.Config{})

	w := &recordingWriter{}
	assert.Empty(t, h.serveMessage(context.Background(), w, inboundMessage{Type: "chat", Message: "hi"}))
	assert.Equal(t, []string{"error"}, w.types())
	assert.Equal(t, "Failed to generate response", w.frames[0]["error"])

	w = &recordingWriter{}
	h.serveMessage(context.Background(), w, inboundMessage{Type: "chat", Message: " "})
	assert.Equal(t, []string{"error"}, w.types())

	w = &recordingWriter{}
	h.serveMessage(context.Background(), w, inboundMessage{Type: "ping"})
	assert.Equal(t, []string{"error"}, w.types())
}
