// Package generation is the HTTP client for the server's generate-image and
// generate-description endpoints. Each call produces one asset for one item.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vbonduro/travelbingo/internal/identity"
)

const (
	imagePath       = "/api/generate-image"
	descriptionPath = "/api/generate-description"

	// maxErrorBody caps how much of a failed response is kept in the error.
	maxErrorBody = 2048
)

type Request struct {
	CityID        string `json:"cityId"`
	ItemID        string `json:"itemId"`
	ItemText      string `json:"itemText"`
	Description   string `json:"description,omitempty"`
	ClientID      string `json:"clientId,omitempty"`
	ForceNewImage bool   `json:"forceNewImage,omitempty"`
}

// Response is the endpoint's reply body, shared with the server handlers.
type Response struct {
	Success     bool   `json:"success"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Description string `json:"description,omitempty"`
	Error       string `json:"error,omitempty"`
}

// NetworkError covers transport failures and non-2xx statuses.
type NetworkError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation request failed: %v", e.Err)
	}
	return fmt.Sprintf("generation endpoint returned status %d: %s", e.StatusCode, e.Body)
}

func (e *NetworkError) Unwrap() error       { return e.Err }
func (e *NetworkError) FailureKind() string { return "network" }

// MalformedResponseError means the reply could not be decoded.
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed generation response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error       { return e.Err }
func (e *MalformedResponseError) FailureKind() string { return "malformed" }

// ApplicationError is a well-formed reply reporting failure, or reporting
// success without the expected field.
type ApplicationError struct {
	Message      string
	MissingField string
}

func (e *ApplicationError) Error() string {
	if e.MissingField != "" {
		return fmt.Sprintf("generation response missing %s", e.MissingField)
	}
	if e.Message == "" {
		return "generation failed"
	}
	return "generation failed: " + e.Message
}

func (e *ApplicationError) FailureKind() string { return "application" }

// Kind names the failure class of err for logs and metrics.
func Kind(err error) string {
	var (
		netErr *NetworkError
		badErr *MalformedResponseError
		appErr *ApplicationError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &netErr):
		return netErr.FailureKind()
	case errors.As(err, &badErr):
		return badErr.FailureKind()
	case errors.As(err, &appErr):
		return appErr.FailureKind()
	default:
		return "unknown"
	}
}

type Client struct {
	baseURL  string
	client   *http.Client
	identity identity.Provider
	logger   *slog.Logger
}

// NewClient targets the server at baseURL. id may be nil, in which case
// requests carry no client id.
func NewClient(baseURL string, httpClient *http.Client, id identity.Provider, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   httpClient,
		identity: id,
		logger:   logger,
	}
}

// GenerateImage returns the URL of a newly generated image for the item.
func (c *Client) GenerateImage(ctx context.Context, req Request) (string, error) {
	resp, err := c.post(ctx, imagePath, req)
	if err != nil {
		return "", err
	}
	if resp.ImageURL == "" {
		return "", &ApplicationError{MissingField: "imageUrl"}
	}
	return resp.ImageURL, nil
}

// GenerateDescription returns generated descriptive text for the item.
func (c *Client) GenerateDescription(ctx context.Context, req Request) (string, error) {
	resp, err := c.post(ctx, descriptionPath, req)
	if err != nil {
		return "", err
	}
	if resp.Description == "" {
		return "", &ApplicationError{MissingField: "description"}
	}
	return resp.Description, nil
}

func (c *Client) post(ctx context.Context, path string, req Request) (*Response, error) {
	if req.ClientID == "" && c.identity != nil {
		id, err := c.identity.ClientID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve client id: %w", err)
		}
		req.ClientID = id
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil {
			c.logger.Error("failed to close generation response body", "error", err)
		}
	}()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, &NetworkError{StatusCode: httpResp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, &MalformedResponseError{Err: err}
	}
	if !resp.Success {
		return nil, &ApplicationError{Message: resp.Error}
	}
	return &resp, nil
}
