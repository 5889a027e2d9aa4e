package llm

import (
	"context"

	"github.com/medcontent/backend/internal/storage/models"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Options tunes a single completion. Zero values fall back to the client defaults.
type Options struct {
	// Temperature is a pointer so that an explicit 0 can be distinguished from unset.
	Temperature        *float64
	MaxTokens          int
	Stream             bool
	PreviousResponseID string
	Instructions       string
	// CallType labels the call for usage accounting only.
	CallType string
}

// Temperature returns a pointer for Options.Temperature.
func Temperature(v float64) *float64 {
	return &v
}

type Result struct {
	Text       string
	ResponseID string
}

// StreamCallbacks receives incremental output. Exactly one of OnComplete and OnError fires.
// Callbacks run on the reading goroutine and must not block.
type StreamCallbacks struct {
	OnStart    func()
	OnToken    func(delta string)
	OnComplete func(fullText string)
	OnError    func(err error)
}

// UsageRecorder accepts usage entries without blocking the caller.
type UsageRecorder interface {
	Record(entry models.UsageRecord)
}

// Completer is the completion half of the gateway.
type Completer interface {
	Complete(ctx context.Context, messages []Message, opts Options) (*Result, error)
	CompleteStreaming(ctx context.Context, messages []Message, opts Options, cb StreamCallbacks) (*Result, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text, callType string) ([]float32, error)
}
