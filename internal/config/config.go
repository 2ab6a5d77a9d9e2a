package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

type Config struct {
	Debug       bool   `envconfig:"DEBUG" default:"false"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Empty DatabaseURL runs against the in-process store.
	DatabaseURL      string `envconfig:"DATABASE_URL"`
	DatabaseMaxConns int32  `envconfig:"DATABASE_MAX_CONNS" default:"10"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"mnemo-decisions"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	SentryDSN string `envconfig:"SENTRY_DSN"`

	LLMProvider          string `envconfig:"LLM_PROVIDER" default:"openai"`
	OpenAIAPIKey         string `envconfig:"OPENAI_API_KEY"`
	OpenAIChatModel      string `envconfig:"OPENAI_CHAT_MODEL" default:"gpt-4o-mini"`
	OpenAIEmbeddingModel string `envconfig:"OPENAI_EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions  int    `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`
	EmbeddingCacheSize   int64  `envconfig:"EMBEDDING_CACHE_SIZE" default:"10000"`
	AnthropicAPIKey      string `envconfig:"ANTHROPIC_API_KEY"`
	AnthropicModel       string `envconfig:"ANTHROPIC_MODEL" default:"claude-sonnet-4-5"`

	RankerCap               int     `envconfig:"RANKER_CAP" default:"5"`
	RankerThreshold         float64 `envconfig:"RANKER_THRESHOLD" default:"0.75"`
	RankerCandidates        int     `envconfig:"RANKER_CANDIDATES" default:"20"`
	RankerDecayLambda       float64 `envconfig:"RANKER_DECAY_LAMBDA" default:"0.05"`
	RankerDiversity         float64 `envconfig:"RANKER_DIVERSITY" default:"0.3"`
	RankerSimilarityCeiling float64 `envconfig:"RANKER_SIMILARITY_CEILING" default:"0.95"`

	TransformWindow   int           `envconfig:"TRANSFORM_WINDOW" default:"4"`
	StageTimeout      time.Duration `envconfig:"STAGE_TIMEOUT" default:"10s"`
	StageRetryBackoff time.Duration `envconfig:"STAGE_RETRY_BACKOFF" default:"500ms"`
	CritiquePenalty   float64       `envconfig:"CRITIQUE_PENALTY" default:"0.6"`
	ConflictPenalty   float64       `envconfig:"CONFLICT_PENALTY" default:"0.5"`
	ApprovalThreshold float64       `envconfig:"APPROVAL_THRESHOLD" default:"0.8"`
	StaleDecayFloor   float64       `envconfig:"STALE_DECAY_FLOOR" default:"0.9"`

	ConsolidationSchedule string `envconfig:"CONSOLIDATION_SCHEDULE" default:"0 3 * * *"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("MNEMO", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Validate checks ranges the pipeline relies on.
func (c *Config) Validate() error {
	if c.LLMProvider != ProviderOpenAI && c.LLMProvider != ProviderAnthropic {
		return fmt.Errorf("LLM_PROVIDER must be %q or %q, got %q", ProviderOpenAI, ProviderAnthropic, c.LLMProvider)
	}
	if c.RankerCap < 1 {
		return fmt.Errorf("RANKER_CAP must be positive")
	}
	if c.RankerCandidates < c.RankerCap {
		c.RankerCandidates = c.RankerCap
	}
	for name, v := range map[string]float64{
		"RANKER_THRESHOLD":          c.RankerThreshold,
		"RANKER_DIVERSITY":          c.RankerDiversity,
		"RANKER_SIMILARITY_CEILING": c.RankerSimilarityCeiling,
		"CRITIQUE_PENALTY":          c.CritiquePenalty,
		"CONFLICT_PENALTY":          c.ConflictPenalty,
		"APPROVAL_THRESHOLD":        c.ApprovalThreshold,
		"STALE_DECAY_FLOOR":         c.StaleDecayFloor,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}
	// ranked evidence has decay >= RANKER_THRESHOLD, so a lower floor never flags anything
	if c.StaleDecayFloor > 0 && c.StaleDecayFloor <= c.RankerThreshold {
		return fmt.Errorf("STALE_DECAY_FLOOR (%v) must exceed RANKER_THRESHOLD (%v)", c.StaleDecayFloor, c.RankerThreshold)
	}
	if c.RankerDecayLambda < 0 {
		return fmt.Errorf("RANKER_DECAY_LAMBDA must not be negative")
	}
	if c.StageTimeout <= 0 {
		return fmt.Errorf("STAGE_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasAnthropic() bool {
	return c.AnthropicAPIKey != ""
}

func (c *Config) HasSentry() bool {
	return c.SentryDSN != ""
}
