package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/medcontent/backend/internal/storage/models"
	"github.com/medcontent/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

// NewClient opens the database with connection-level pragmas in the DSN so that every pooled
// connection enforces foreign keys and waits on locks.
func NewClient(dbPath string) (*Client, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS api_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		call_type TEXT NOT NULL,
		token_type TEXT NOT NULL,
		token_count INTEGER NOT NULL,
		model TEXT NOT NULL,
		message TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_created ON api_usage(created_at);
	CREATE INDEX IF NOT EXISTS idx_usage_model ON api_usage(model);

	CREATE TABLE IF NOT EXISTS articles (
		slug TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		excerpt TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS article_chunks (
		id TEXT PRIMARY KEY,
		post_slug TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		retrieved_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (post_slug) REFERENCES articles(slug) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_slug ON article_chunks(post_slug);

	CREATE TABLE IF NOT EXISTS chat_exchanges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		message TEXT NOT NULL,
		optimized_query TEXT,
		technical_response TEXT,
		response TEXT,
		context_count INTEGER,
		streaming INTEGER DEFAULT 0,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_exchanges_conversation ON chat_exchanges(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_exchanges_created ON chat_exchanges(created_at);

	CREATE TABLE IF NOT EXISTS chat_exchange_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exchange_id INTEGER NOT NULL,
		chunk_id TEXT,
		post_slug TEXT,
		link TEXT NOT NULL,
		label TEXT NOT NULL,
		similarity REAL,
		FOREIGN KEY (exchange_id) REFERENCES chat_exchanges(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sources_exchange ON chat_exchange_sources(exchange_id);
	`

	_, err := c.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertUsage(ctx context.Context, record *models.UsageRecord) error {
	query := `INSERT INTO api_usage (call_type, token_type, token_count, model, message, created_at) VALUES (?, ?, ?, ?, ?, ?)`

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	res, err := c.db.ExecContext(
		ctx,
		query,
		record.CallType,
		string(record.TokenType),
		record.TokenCount,
		record.Model,
		record.Message,
		createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		record.ID = id
	}
	return nil
}

// ListUsageSince returns usage rows created at or after since, oldest first. A zero since returns every row.
func (c *Client) ListUsageSince(ctx context.Context, since time.Time) ([]models.UsageRecord, error) {
	query := `
		SELECT id, call_type, token_type, token_count, model, COALESCE(message, ''), created_at
		FROM api_usage
		WHERE created_at >= ?
		ORDER BY created_at ASC, id ASC
	`

	var from int64
	if !since.IsZero() {
		from = since.Unix()
	}

	rows, err := c.db.QueryContext(ctx, query, from)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var r models.UsageRecord
		var tokenType string
		var createdAt int64

		err := rows.Scan(&r.ID, &r.CallType, &tokenType, &r.TokenCount, &r.Model, &r.Message, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.TokenType = models.TokenType(tokenType)
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate usage rows: %w", err)
	}
	return records, nil
}

func (c *Client) UpsertArticle(ctx context.Context, article *models.Article) error {
	query := `
		INSERT INTO articles (slug, title, excerpt, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			title = excluded.title,
			excerpt = excluded.excerpt,
			updated_at = excluded.updated_at
	`

	_, err := c.db.ExecContext(
		ctx,
		query,
		article.Slug,
		article.Title,
		article.Excerpt,
		article.CreatedAt.Unix(),
		article.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert article: %w", err)
	}

	logger.Debug("Article stored", zap.String("slug", article.Slug))
	return nil
}

func (c *Client) GetArticle(ctx context.Context, slug string) (*models.Article, error) {
	query := `SELECT slug, title, COALESCE(excerpt, ''), created_at, updated_at FROM articles WHERE slug = ?`

	var a models.Article
	var createdAt, updatedAt int64

	err := c.db.QueryRowContext(ctx, query, slug).Scan(&a.Slug, &a.Title, &a.Excerpt, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get article: %w", err)
	}

	a.CreatedAt = time.Unix(createdAt, 0)
	a.UpdatedAt = time.Unix(updatedAt, 0)
	return &a, nil
}

// ReplaceChunks swaps every chunk of an article for the given set in one transaction.
func (c *Client) ReplaceChunks(ctx context.Context, slug string, chunks []models.ArticleChunk) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM article_chunks WHERE post_slug = ?`, slug); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO article_chunks (id, post_slug, chunk_index, text, retrieved_count, created_at) VALUES (?, ?, ?, ?, 0, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		if _, err := stmt.ExecContext(ctx, chunk.ID, slug, chunk.ChunkIndex, chunk.Text, chunk.CreatedAt.Unix()); err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}
	return nil
}

func (c *Client) GetChunks(ctx context.Context, slug string) ([]models.ArticleChunk, error) {
	query := `
		SELECT id, post_slug, chunk_index, text, retrieved_count, created_at
		FROM article_chunks
		WHERE post_slug = ?
		ORDER BY chunk_index ASC
	`

	rows, err := c.db.QueryContext(ctx, query, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.ArticleChunk
	for rows.Next() {
		var ch models.ArticleChunk
		var createdAt int64

		err := rows.Scan(&ch.ID, &ch.PostSlug, &ch.ChunkIndex, &ch.Text, &ch.RetrievedCount, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		ch.CreatedAt = time.Unix(createdAt, 0)
		chunks = append(chunks, ch)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunk rows: %w", err)
	}
	return chunks, nil
}

// IncrementChunkRetrievedCount bumps the counter in a single statement so concurrent chats never race.
func (c *Client) IncrementChunkRetrievedCount(ctx context.Context, chunkID string) error {
	res, err := c.db.ExecContext(ctx, `UPDATE article_chunks SET retrieved_count = retrieved_count + 1 WHERE id = ?`, chunkID)
	if err != nil {
		return fmt.Errorf("failed to increment retrieved count: %w", err)
	}

	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("chunk %s not found", chunkID)
	}
	return nil
}

// InsertChatRecord appends one exchange and its cited sources. Every turn of a conversation gets
// its own row; record.ID is set to the new exchange id.
func (c *Client) InsertChatRecord(ctx context.Context, record *models.ChatRecord, sources []models.ChatSource) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	streaming := 0
	if record.Streaming {
		streaming = 1
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO chat_exchanges (conversation_id, message, optimized_query, technical_response, response,
			context_count, streaming, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ConversationID,
		record.Message,
		record.OptimizedQuery,
		record.TechnicalResponse,
		record.Response,
		record.ContextCount,
		streaming,
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chat record: %w", err)
	}

	exchangeID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read exchange id: %w", err)
	}

	for _, src := range sources {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chat_exchange_sources (exchange_id, chunk_id, post_slug, link, label, similarity) VALUES (?, ?, ?, ?, ?, ?)`,
			exchangeID, src.ChunkID, src.PostSlug, src.Link, src.Label, src.Similarity,
		)
		if err != nil {
			return fmt.Errorf("failed to insert chat source: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chat record: %w", err)
	}
	record.ID = exchangeID

	logger.Debug("Chat recorded",
		zap.String("conversation_id", record.ConversationID),
		zap.Int64("exchange_id", exchangeID),
		zap.Int("context_count", record.ContextCount),
		zap.Int("sources", len(sources)),
	)
	return nil
}

// ListChatRecords returns every exchange of a conversation in the order they were logged.
func (c *Client) ListChatRecords(ctx context.Context, conversationID string) ([]models.ChatRecord, error) {
	query := `
		SELECT id, conversation_id, message, COALESCE(optimized_query, ''), COALESCE(technical_response, ''),
			COALESCE(response, ''), COALESCE(context_count, 0), streaming, COALESCE(latency_ms, 0), created_at
		FROM chat_exchanges
		WHERE conversation_id = ?
		ORDER BY id ASC
	`

	rows, err := c.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat records: %w", err)
	}
	defer rows.Close()

	var records []models.ChatRecord
	for rows.Next() {
		var r models.ChatRecord
		var streaming int
		var createdAt int64
		err := rows.Scan(&r.ID, &r.ConversationID, &r.Message, &r.OptimizedQuery, &r.TechnicalResponse,
			&r.Response, &r.ContextCount, &streaming, &r.LatencyMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Streaming = streaming == 1
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat rows: %w", err)
	}
	return records, nil
}

// GetChatSources returns the cited sources of every exchange in a conversation.
func (c *Client) GetChatSources(ctx context.Context, conversationID string) ([]models.ChatSource, error) {
	query := `
		SELECT s.id, s.exchange_id, e.conversation_id, COALESCE(s.chunk_id, ''), COALESCE(s.post_slug, ''),
			s.link, s.label, COALESCE(s.similarity, 0)
		FROM chat_exchange_sources s
		JOIN chat_exchanges e ON e.id = s.exchange_id
		WHERE e.conversation_id = ?
		ORDER BY s.exchange_id ASC, s.id ASC
	`

	rows, err := c.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat sources: %w", err)
	}
	defer rows.Close()

	var sources []models.ChatSource
	for rows.Next() {
		var s models.ChatSource
		if err := rows.Scan(&s.ID, &s.ExchangeID, &s.ConversationID, &s.ChunkID, &s.PostSlug, &s.Link, &s.Label, &s.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		sources = append(sources, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate source rows: %w", err)
	}
	return sources, nil
}
