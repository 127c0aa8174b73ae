package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	extErrors "github.com/pkg/errors"
)

// ClientOptions contains the configuration for the completion API client
type ClientOptions struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client is a thin pass-through to an external chat-completion endpoint.
// It holds no state beyond configuration.
type Client struct {
	ClientOptions
	httpClient *http.Client
}

// NewClient returns a completion API client with a bounded request timeout
func NewClient(option ClientOptions) (*Client, error) {
	if len(option.BaseURL) == 0 {
		return nil, fmt.Errorf("empty BaseURL is invalid")
	}
	if len(option.APIKey) == 0 {
		return nil, fmt.Errorf("empty APIKey is invalid")
	}
	if len(option.Model) == 0 {
		return nil, fmt.Errorf("empty Model is invalid")
	}
	if option.Timeout == 0 {
		option.Timeout = time.Second * 60
	}
	return &Client{
		ClientOptions: option,
		httpClient: &http.Client{
			Timeout: option.Timeout,
		},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one prompt and returns the model's reply text
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	reqBody := chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
	}
	jsonBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", extErrors.Wrap(err, "Cannot encode completion request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(jsonBytes))
	if err != nil {
		return "", extErrors.Wrap(err, "Cannot build completion request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return "", extErrors.Wrap(err, "Completion endpoint unreachable")
	}
	defer httpResp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return "", extErrors.Wrap(err, "Cannot decode completion response")
	}
	if httpResp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", fmt.Errorf("completion endpoint returned %d: %s", httpResp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("completion endpoint returned %d", httpResp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
