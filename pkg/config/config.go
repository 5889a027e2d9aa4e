package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	LLM        LLMConfig
	RAG        RAGConfig
	Usage      UsageConfig
	SQLite     SQLiteConfig
	Zilliz     ZillizConfig
	Redis      RedisConfig
	Forwarding ForwardingConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins string
	MaxMessageLen  int
	MaxHistoryLen  int
}

type LLMConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Temperature    float64
	MaxTokens      int
	TimeoutSec     int
	MaxAttempts    int
}

type RAGConfig struct {
	TopK                int
	SimilarityThreshold float64
	CitationBasePath    string
}

// Rate is the price in USD per 10,000 tokens.
type Rate struct {
	Input  float64
	Output float64
}

type UsageConfig struct {
	Rates map[string]Rate
}

type SQLiteConfig struct {
	Path string
}

type ZillizConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
}

type RedisConfig struct {
	Enabled         bool
	Host            string
	Port            int
	Password        string
	DB              int
	EmbeddingTTLSec int
}

type ForwardingConfig struct {
	WebhookURL    string
	WebhookSecret string
	TimeoutSec    int
}

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

const envPrefix = "MEDCONTENT"

// Load reads config.yaml (if present) and the environment. configFile overrides the search path.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/medcontent")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("llm.apiKey", envPrefix+"_LLM_APIKEY", "OPENAI_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind api key env: %w", err)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Usage.Rates) == 0 {
		cfg.Usage.Rates = DefaultRates()
	}

	return &cfg, nil
}

// DefaultRates is the built-in price table, USD per 10,000 tokens.
func DefaultRates() map[string]Rate {
	return map[string]Rate{
		"gpt-4o":                 {Input: 0.025, Output: 0.10},
		"gpt-4o-mini":            {Input: 0.0015, Output: 0.006},
		"text-embedding-3-small": {Input: 0.0002, Output: 0.0002},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 10485760)
	v.SetDefault("server.allowedOrigins", "*")
	v.SetDefault("server.maxMessageLen", 4000)
	v.SetDefault("server.maxHistoryLen", 50)

	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.maxTokens", 500)
	v.SetDefault("llm.timeoutSec", 60)
	v.SetDefault("llm.maxAttempts", 3)

	v.SetDefault("rag.topK", 3)
	v.SetDefault("rag.similarityThreshold", 0.0)
	v.SetDefault("rag.citationBasePath", "/blog/article/")

	v.SetDefault("sqlite.path", "./data/medcontent.db")

	v.SetDefault("zilliz.endpoint", "localhost:19530")
	v.SetDefault("zilliz.apiKey", "")
	v.SetDefault("zilliz.collectionName", "article_chunks")
	v.SetDefault("zilliz.vectorDim", 1536)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.embeddingTTLSec", 86400)

	v.SetDefault("forwarding.webhookURL", "")
	v.SetDefault("forwarding.webhookSecret", "")
	v.SetDefault("forwarding.timeoutSec", 30)

	v.SetDefault("ratelimit.requestsPerMinute", 60)
	v.SetDefault("ratelimit.burst", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
