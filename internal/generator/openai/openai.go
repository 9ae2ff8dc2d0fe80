// Package openai generates tile images with the OpenAI images API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/vbonduro/travelbingo/internal/generator"
)

const defaultImagesURL = "https://api.openai.com/v1/images/generations"

type request struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type response struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type Config struct {
	APIKey     string
	Model      string
	ImagesURL  string
	HTTPClient *http.Client
	// RequestsPerSecond paces upstream calls; zero disables pacing.
	RequestsPerSecond float64
}

type ImageGenerator struct {
	apiKey  string
	model   string
	url     string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *ImageGenerator {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if strings.TrimSpace(cfg.ImagesURL) == "" {
		cfg.ImagesURL = defaultImagesURL
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &ImageGenerator{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		url:     cfg.ImagesURL,
		client:  cfg.HTTPClient,
		limiter: limiter,
		logger:  logger,
	}
}

func (g *ImageGenerator) GenerateImage(ctx context.Context, p generator.Prompt) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("failed to wait for rate limiter: %w", err)
	}

	payload, err := json.Marshal(request{
		Model:  g.model,
		Prompt: generator.ImagePrompt(p),
		N:      1,
		Size:   "1024x1024",
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call openai: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			g.logger.Error("failed to close openai response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("openai returned status %d: %s", resp.StatusCode, bytes.TrimSpace(errBody))
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if body.Error != nil {
		return "", fmt.Errorf("openai error: %s", body.Error.Message)
	}
	if len(body.Data) == 0 || body.Data[0].URL == "" {
		return "", fmt.Errorf("openai response contained no image url")
	}

	g.logger.Debug("image generated", "item", p.ItemText, "model", g.model)
	return body.Data[0].URL, nil
}
