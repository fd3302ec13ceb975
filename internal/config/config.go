package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"ethosgraph-documents"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY"`

	// External hierarchical entity store
	OntologyBaseURL string        `envconfig:"ONTOLOGY_BASE_URL"`
	OntologyAPIKey  string        `envconfig:"ONTOLOGY_API_KEY"`
	OntologyTimeout time.Duration `envconfig:"ONTOLOGY_TIMEOUT" default:"15s"`

	// Base URI for entities this service mints on commit
	EntityBaseURI string `envconfig:"ENTITY_BASE_URI" default:"https://ethos.works/ontology"`

	// Matcher thresholds. Per-category overrides are "category:high;low;topk"
	// pairs, e.g. MATCH_CATEGORY_THRESHOLDS="role:0.9;0.6;4,event:0.8;0.5;5".
	MatchHighThreshold      float64           `envconfig:"MATCH_HIGH_THRESHOLD" default:"0.85"`
	MatchLowThreshold       float64           `envconfig:"MATCH_LOW_THRESHOLD" default:"0.55"`
	MatchTopK               int               `envconfig:"MATCH_TOP_K" default:"5"`
	MatchCategoryThresholds map[string]string `envconfig:"MATCH_CATEGORY_THRESHOLDS"`

	// Extraction pipeline tuning
	LowContextPenalty   float64       `envconfig:"LOW_CONTEXT_PENALTY" default:"0.8"`
	CategoryConcurrency int           `envconfig:"CATEGORY_CONCURRENCY" default:"3"`
	WorkerPollInterval  time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"5s"`

	// Static API keys, comma separated "actor:key" pairs
	APIKeys []string `envconfig:"API_KEYS"`

	SentryDSN              string  `envconfig:"SENTRY_DSN"`
	SentryEnvironment      string  `envconfig:"SENTRY_ENVIRONMENT"`
	SentryTracesSampleRate float64 `envconfig:"SENTRY_TRACES_SAMPLE_RATE" default:"1.0"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("ETHOSGRAPH", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
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

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasOntology() bool {
	return c.OntologyBaseURL != ""
}
