package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/medcontent/backend/internal/llm"
	"github.com/medcontent/backend/internal/middleware/validation"
	"github.com/medcontent/backend/internal/rag"
	"github.com/medcontent/backend/internal/retrieval"
	"github.com/medcontent/backend/pkg/logger"
)

const (
	frameStart    = "start"
	frameToken    = "token"
	frameComplete = "complete"
	frameError    = "error"
)

type inboundMessage struct {
	Type                string        `json:"type"`
	Message             string        `json:"message"`
	ConversationHistory []llm.Message `json:"conversation_history"`
	ConversationID      string        `json:"conversationId"`
}

type frame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

type completeFrame struct {
	Type           string                  `json:"type"`
	Content        string                  `json:"content"`
	ConversationID string                  `json:"conversationId"`
	Citations      []retrieval.Citation    `json:"citations"`
	ContextUsed    []retrieval.ChatContext `json:"contextUsed"`
}

type frameWriter interface {
	WriteJSON(v interface{}) error
}

type WebSocketHandler struct {
	chat       ChatService
	validation validation.Config
}

func NewWebSocketHandler(chat ChatService, cfg validation.Config) *WebSocketHandler {
	return &WebSocketHandler{
		chat:       chat,
		validation: cfg,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	// One conversation per connection unless the client names its own.
	var conversationID string
	for {
		var msg inboundMessage
		if err := c.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Error("Failed to read WebSocket message", zap.Error(err))
			}
			break
		}

		if msg.ConversationID == "" {
			msg.ConversationID = conversationID
		}
		if id := h.serveMessage(context.Background(), c, msg); id != "" {
			conversationID = id
		}
	}
}

// serveMessage streams one answer as start, token and complete frames, or a single error frame.
// It returns the conversation id on success.
func (h *WebSocketHandler) serveMessage(ctx context.Context, w frameWriter, msg inboundMessage) string {
	if msg.Type != "chat" {
		h.send(w, frame{Type: frameError, Error: "unsupported message type"})
		return ""
	}

	req := validation.ChatRequest{
		Message:             msg.Message,
		ConversationHistory: msg.ConversationHistory,
	}
	if err := validation.CheckChat(&req, h.validation); err != nil {
		h.send(w, frame{Type: frameError, Error: err.Error()})
		return ""
	}

	resp, err := h.chat.GetChatResponse(ctx, rag.Request{
		Message:             req.Message,
		ConversationHistory: req.ConversationHistory,
		ConversationID:      msg.ConversationID,
		Callbacks: &rag.StreamCallbacks{
			OnStart: func() {
				h.send(w, frame{Type: frameStart})
			},
			OnToken: func(delta string) {
				h.send(w, frame{Type: frameToken, Content: delta})
			},
			OnError: func(err error) {
				h.send(w, frame{Type: frameError, Error: clientMessage(err)})
			},
		},
	})
	if err != nil {
		logger.Error("Failed to stream chat response", zap.Error(err))
		return ""
	}

	// The conversation id is only final once the pipeline returns, so the complete frame is
	// sent here rather than from OnComplete.
	h.send(w, completeFrame{
		Type:           frameComplete,
		Content:        resp.Response,
		ConversationID: resp.ConversationID,
		Citations:      resp.Citations,
		ContextUsed:    resp.ContextUsed,
	})
	return resp.ConversationID
}

func (h *WebSocketHandler) send(w frameWriter, f interface{}) {
	if err := w.WriteJSON(f); err != nil {
		logger.Warn("Failed to write WebSocket frame", zap.Error(err))
	}
}

func clientMessage(err error) string {
	if statusFor(err) == fiber.StatusBadRequest {
		return err.Error()
	}
	return "Failed to generate response"
}
