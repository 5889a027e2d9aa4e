package validation

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medcontent/backend/internal/llm"
)

func newChatApp(cfg Config) *fiber.App {
	app := fiber.New()
	app.Use(ContentType(cfg))
	app.Post("/chat", Chat(cfg), func(c *fiber.Ctx) error {
		return c.JSON(ChatRequestFrom(c))
	})
	return app
}

func post(t *testing.T, app *fiber.App, contentType, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest("POST", "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	resp, err := app.Test(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestChatStoresSanitizedRequest(t *testing.T) {
	app := newChatApp(Config{})

	status, body := post(t, app, "application/json",
		`{"message":"  What is asthma?  ","conversation_history":[{"role":"user","content":" hi "},{"role":"assistant","content":"hello"}]}`)
	require.Equal(t, fiber.StatusOK, status, body)

	var got ChatRequest
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, "What is asthma?", got.Message)
	assert.Equal(t, []llm.Message{llm.UserMessage("hi"), llm.AssistantMessage("hello")}, got.ConversationHistory)
}

func TestChatRejections(t *testing.T) {
	app := newChatApp(Config{MaxMessageLength: 10, MaxHistoryLength: 1})

	cases := map[string]string{
		"bad json":      `{"message":`,
		"empty":         `{"message":"   "}`,
		"too long":      `{"message":"this is far too long"}`,
		"bad role":      `{"message":"hi","conversation_history":[{"role":"tool","content":"x"}]}`,
		"long history":  `{"message":"hi","conversation_history":[{"role":"user","content":"a"},{"role":"user","content":"b"}]}`,
		"script inject": `{"message":"<script>"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			status, _ := post(t, app, "application/json", body)
			assert.Equal(t, fiber.StatusBadRequest, status)
		})
	}
}

func TestContentTypeRejectsUnsupported(t *testing.T) {
	app := newChatApp(Config{})

	status, _ := post(t, app, "text/plain", `hello`)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, status)
}

func TestIsValidURL(t *testing.T) {
	assert.True(t, IsValidURL("https://example.org/a"))
	assert.False(t, IsValidURL("ftp://example.org"))
	assert.False(t, IsValidURL("https://"))
	assert.False(t, IsValidURL("::"))
}
