package models

import "time"

type TokenType string

const (
	TokenInput  TokenType = "input"
	TokenOutput TokenType = "output"
)

// UsageRecord is one row of the append-only token usage log.
type UsageRecord struct {
	ID         int64     `json:"id"`
	CallType   string    `json:"callType"`
	TokenType  TokenType `json:"tokenType"`
	TokenCount int       `json:"tokenCount"`
	Model      string    `json:"model"`
	Message    string    `json:"message,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ArticleChunk is an indexed slice of an article, addressable by the vector store.
type ArticleChunk struct {
	ID             string
	PostSlug       string
	ChunkIndex     int
	Text           string
	RetrievedCount int
	CreatedAt      time.Time
}

type Article struct {
	Slug      string
	Title     string
	Excerpt   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChatRecord is the audit row written after a successful chat exchange.
type ChatRecord struct {
	ID                int64
	ConversationID    string
	Message           string
	OptimizedQuery    string
	TechnicalResponse string
	Response          string
	ContextCount      int
	Streaming         bool
	LatencyMS         int
	CreatedAt         time.Time
}

type ChatSource struct {
	ID             int64
	ExchangeID     int64
	ConversationID string
	ChunkID        string
	PostSlug       string
	Link           string
	Label          string
	Similarity     float64
}

// ChunkMatch is one row returned by a similarity search.
type ChunkMatch struct {
	ChunkID    string
	Text       string
	PostSlug   string
	Similarity float64
}
