// Package claude writes tile descriptions with the Anthropic Messages API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/vbonduro/travelbingo/internal/generator"
)

// maxTokens leaves room for two sentences of output.
const maxTokens = 300

type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

type DescriptionWriter struct {
	client *anthropic.Client
	model  string
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *DescriptionWriter {
	var opts []anthropic.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, anthropic.WithHTTPClient(cfg.HTTPClient))
	}
	return &DescriptionWriter{
		client: anthropic.NewClient(cfg.APIKey, opts...),
		model:  cfg.Model,
		logger: logger,
	}
}

func (w *DescriptionWriter) Describe(ctx context.Context, p generator.Prompt) (string, error) {
	resp, err := w.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(w.model),
		Messages:  []anthropic.Message{anthropic.NewUserTextMessage(generator.DescriptionPrompt(p))},
		MaxTokens: maxTokens,
	})
	if err != nil {
		var apiErr *anthropic.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("claude api error %s: %s", apiErr.Type, apiErr.Message)
		}
		return "", fmt.Errorf("failed to call claude: %w", err)
	}

	var parts []string
	for _, c := range resp.Content {
		if text := strings.TrimSpace(c.GetText()); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("claude response contained no text")
	}

	w.logger.Debug("description generated", "item", p.ItemText, "model", w.model)
	return strings.Join(parts, "\n"), nil
}
