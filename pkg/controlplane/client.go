// Package controlplane talks to the service of record for users and
// recordings. Every endpoint answers with a JSON body carrying its own
// "status" field; only a body status of 200 counts as success regardless of
// the HTTP status line.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"recording-ingest/constant"
	"strings"
	"time"
)

const defaultHTTPTimeout = 15 * time.Second

var (
	ErrMalformedResponse = errors.New("malformed control plane response")
	ErrInvalidUser       = errors.New("invalid user id")
)

// StatusError is returned when the control plane answered with a well-formed
// body whose status is not 200.
type StatusError struct {
	Op         string
	Status     int
	HTTPStatus int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("control plane %s: status %d (http %d)", e.Op, e.Status, e.HTTPStatus)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	client := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// ProcessingResponse is the answer to a "processing started" notification.
// Plan is empty when the control plane omitted it or sent an unknown tier.
type ProcessingResponse struct {
	Status int
	Plan   constant.Plan
}

// TranscriptNotification carries the enrichment output. Content is the raw
// JSON document produced by the generation step.
type TranscriptNotification struct {
	Filename   string `json:"filename"`
	Content    string `json:"content"`
	Transcript string `json:"transcript"`
}

type filenameRequest struct {
	Filename string `json:"filename"`
}

type statusBody struct {
	Status *int    `json:"status"`
	Plan   *string `json:"plan"`
}

// MarkProcessing tells the control plane a recording has entered processing
// and learns the owner's plan.
func (c *Client) MarkProcessing(ctx context.Context, userID, filename string) (ProcessingResponse, error) {
	body, err := c.post(ctx, "processing", userID, filenameRequest{Filename: filename})
	if err != nil {
		return ProcessingResponse{}, err
	}
	resp := ProcessingResponse{Status: *body.Status}
	if body.Plan != nil {
		if plan, ok := constant.ParsePlan(*body.Plan); ok {
			resp.Plan = plan
		}
	}
	return resp, nil
}

func (c *Client) MarkComplete(ctx context.Context, userID, filename string) error {
	_, err := c.post(ctx, "complete", userID, filenameRequest{Filename: filename})
	return err
}

func (c *Client) SendTranscript(ctx context.Context, userID string, n TranscriptNotification) error {
	_, err := c.post(ctx, "transcribe", userID, n)
	return err
}

func (c *Client) post(ctx context.Context, op, userID string, payload any) (statusBody, error) {
	var empty statusBody
	if c.baseURL == "" {
		return empty, fmt.Errorf("control plane %s: base url not configured", op)
	}
	if strings.TrimSpace(userID) == "" {
		return empty, fmt.Errorf("control plane %s: user id required", op)
	}
	// The user id must stay a single path segment under recording/.
	if userID == "." || userID == ".." || strings.ContainsAny(userID, `/\`) {
		return empty, fmt.Errorf("control plane %s: %q: %w", op, userID, ErrInvalidUser)
	}
	endpoint, err := url.JoinPath(c.baseURL, "recording", url.PathEscape(userID), op)
	if err != nil {
		return empty, fmt.Errorf("control plane %s: build url: %w", op, err)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return empty, fmt.Errorf("control plane %s: encode request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return empty, fmt.Errorf("control plane %s: request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return empty, fmt.Errorf("control plane %s: request failed: %w", op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return empty, fmt.Errorf("control plane %s: read body: %w", op, err)
	}

	var body statusBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return empty, fmt.Errorf("control plane %s: http %d: %w", op, resp.StatusCode, errors.Join(ErrMalformedResponse, err))
	}
	if body.Status == nil {
		return empty, fmt.Errorf("control plane %s: http %d: missing status: %w", op, resp.StatusCode, ErrMalformedResponse)
	}
	if *body.Status != http.StatusOK {
		return empty, &StatusError{Op: op, Status: *body.Status, HTTPStatus: resp.StatusCode}
	}
	return body, nil
}
