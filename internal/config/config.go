package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	ListenAddr   string `env:"LISTEN_ADDR" envDefault:":8080"`
	DBPath       string `env:"DB_PATH" envDefault:"/data/travelbingo.db"`
	PhotoBackend string `env:"PHOTO_BACKEND" envDefault:"sqlite"`
	PhotoPath    string `env:"PHOTO_LOCAL_PATH" envDefault:"/data/photos"`

	OpenAIAPIKey     string  `env:"OPENAI_API_KEY"`
	OpenAIImageModel string  `env:"OPENAI_IMAGE_MODEL" envDefault:"dall-e-3"`
	OpenAIImagesURL  string  `env:"OPENAI_IMAGES_URL" envDefault:"https://api.openai.com/v1/images/generations"`
	GenerationRPS    float64 `env:"GENERATION_RPS" envDefault:"1"`
	ClaudeAPIKey     string  `env:"CLAUDE_API_KEY"`
	ClaudeModel      string  `env:"CLAUDE_MODEL" envDefault:"claude-3-5-haiku-latest"`

	BatchConcurrency int           `env:"BATCH_CONCURRENCY" envDefault:"3"`
	BatchMaxRetries  int           `env:"BATCH_MAX_RETRIES" envDefault:"2"`
	BatchBackoff     time.Duration `env:"BATCH_BACKOFF" envDefault:"1s"`
	BatchItemDelay   time.Duration `env:"BATCH_ITEM_DELAY" envDefault:"500ms"`
	BatchGroupDelay  time.Duration `env:"BATCH_GROUP_DELAY" envDefault:"1s"`

	CityCacheTTL   time.Duration `env:"CITY_CACHE_TTL" envDefault:"5m"`
	ServerClientID string        `env:"SERVER_CLIENT_ID" envDefault:"server-admin"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse env: %w", err)
	}
	if cfg.BatchConcurrency < 1 {
		return nil, fmt.Errorf("BATCH_CONCURRENCY must be positive, got %d", cfg.BatchConcurrency)
	}
	if cfg.BatchMaxRetries < 0 {
		return nil, fmt.Errorf("BATCH_MAX_RETRIES must not be negative, got %d", cfg.BatchMaxRetries)
	}
	return cfg, nil
}
