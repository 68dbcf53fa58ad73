// Package ai adapts the OpenAI speech-to-text and chat completion APIs to
// the two calls the enrichment pipeline makes.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	openai "github.com/sashabaranov/go-openai"
	"net/http"
	"strings"
	"time"
)

const defaultHTTPTimeout = 2 * time.Minute

// TitleSummary is the structured result of the generation step. Raw keeps the
// exact JSON document the model returned.
type TitleSummary struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Raw     string `json:"-"`
}

type Config struct {
	APIKey             string
	BaseURL            string
	TranscriptionModel string
	ChatModel          string
	Timeout            time.Duration
}

type Client struct {
	api                *openai.Client
	transcriptionModel string
	chatModel          string
}

func NewClient(cfg Config) *Client {
	clientCfg := openai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.BaseURL = strings.TrimRight(base, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	c := &Client{
		api:                openai.NewClientWithConfig(clientCfg),
		transcriptionModel: cfg.TranscriptionModel,
		chatModel:          cfg.ChatModel,
	}
	if c.transcriptionModel == "" {
		c.transcriptionModel = openai.Whisper1
	}
	if c.chatModel == "" {
		c.chatModel = openai.GPT3Dot5Turbo
	}
	return c
}

// Transcribe submits the media file at path and returns the plain-text transcript.
func (c *Client) Transcribe(ctx context.Context, path string) (string, error) {
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.transcriptionModel,
		FilePath: path,
		Format:   openai.AudioResponseFormatText,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", errors.New("transcribe: empty transcript")
	}
	return text, nil
}

// TitleSummaryPrompt embeds the transcript verbatim into the instruction.
func TitleSummaryPrompt(transcript string) string {
	return "You are going to generate a title and a nice description using the speech to text transcription " +
		"provided: transcription(" + transcript + ") and then return it in json format as " +
		`{"title": <the title you gave>, "summary": <the summary you created>}`
}

func (c *Client) GenerateTitleSummary(ctx context.Context, transcript string) (TitleSummary, error) {
	var empty TitleSummary
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: TitleSummaryPrompt(transcript)},
		},
	})
	if err != nil {
		return empty, fmt.Errorf("generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return empty, errors.New("generate: empty choices")
	}
	return ParseTitleSummary(resp.Choices[0].Message.Content)
}

// ParseTitleSummary decodes the model output, tolerating a markdown code fence.
func ParseTitleSummary(content string) (TitleSummary, error) {
	var parsed TitleSummary
	raw := strings.TrimSpace(content)
	if raw == "" {
		return parsed, errors.New("generate: empty content")
	}
	body := raw
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return TitleSummary{}, fmt.Errorf("generate: parse payload: %w", err)
	}
	parsed.Raw = raw
	return parsed, nil
}
