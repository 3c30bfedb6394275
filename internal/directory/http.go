package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HTTPClient talks to the chat directory service over its internal JSON API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

func NewHTTPClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "directory").Logger(),
	}
}

type saveMessageRequest struct {
	SenderEmail string `json:"senderEmail"`
	Message     string `json:"message"`
}

type saveMessageResponse struct {
	MessageID int64 `json:"messageId"`
}

func (c *HTTPClient) SaveMessage(ctx context.Context, roomID int64, senderEmail, content string) (int64, error) {
	endpoint := fmt.Sprintf("%s/internal/rooms/%d/messages", c.baseURL, roomID)
	body, err := json.Marshal(saveMessageRequest{SenderEmail: senderEmail, Message: content})
	if err != nil {
		return 0, fmt.Errorf("encode save request: %w", err)
	}

	var resp saveMessageResponse
	if err := c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(body), &resp); err != nil {
		return 0, err
	}
	return resp.MessageID, nil
}

type participantResponse struct {
	Participant bool `json:"participant"`
}

func (c *HTTPClient) IsRoomParticipant(ctx context.Context, identity string, roomID int64) (bool, error) {
	endpoint := fmt.Sprintf("%s/internal/rooms/%d/participants/%s", c.baseURL, roomID, url.PathEscape(identity))

	var resp participantResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return false, err
	}
	return resp.Participant, nil
}

func (c *HTTPClient) ChatHistory(ctx context.Context, identity string, roomID int64) ([]Message, error) {
	endpoint := fmt.Sprintf("%s/internal/rooms/%d/history?identity=%s", c.baseURL, roomID, url.QueryEscape(identity))

	var messages []Message
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// do runs one request against the directory and decodes the JSON response.
// Transport failures map to ErrUnavailable, 404s to ErrNotFound.
func (c *HTTPClient) do(ctx context.Context, method, url string, body *bytes.Reader, out any) error {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, url, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, url, nil)
	}
	if err != nil {
		return fmt.Errorf("build directory request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().
			Str("method", method).
			Str("url", url).
			Str("request_id", requestID).
			Err(err).
			Msg("Directory request failed")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("url", url).
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("Directory request completed")

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("directory rejected request: status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode directory response: %w", err)
	}
	return nil
}

var _ Service = (*HTTPClient)(nil)
