package anthropic

import (
	"errors"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

var ErrMissingAPIKey = errors.New("anthropic: api key is required")

type Config struct {
	APIKey     string        `envconfig:"API_KEY" split_words:"true"`
	BaseURL    string        `envconfig:"BASE_URL" split_words:"true"`
	Model      string        `envconfig:"MODEL" split_words:"true" default:"claude-3-5-haiku-latest"`
	MaxTokens  int64         `envconfig:"MAX_TOKENS" split_words:"true" default:"256"`
	Timeout    time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"15s"`
	MaxRetries int           `envconfig:"MAX_RETRIES" split_words:"true" default:"2"`
}

// NewClient creates an Anthropic SDK client. The key is only required when
// the client is actually selected, so it is checked here rather than by
// envconfig.
func NewClient(cfg Config) (*anthropicsdk.Client, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, ErrMissingAPIKey
	}

	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if trimmed := strings.TrimRight(cfg.BaseURL, "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	client := anthropicsdk.NewClient(opts...)
	return &client, nil
}
