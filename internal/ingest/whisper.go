package ingest

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const whisperPath = "/v1/audio/transcriptions"

// WhisperTranscriber calls an OpenAI-compatible transcription endpoint.
type WhisperTranscriber struct {
	client *resty.Client
	model  string
}

type whisperResponse struct {
	Text string `json:"text"`
}

type whisperError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewWhisperTranscriber builds a transcriber for baseURL, e.g. https://api.openai.com.
func NewWhisperTranscriber(baseURL, apiKey, model string, timeout time.Duration) *WhisperTranscriber {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout)
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &WhisperTranscriber{client: client, model: model}
}

func (t *WhisperTranscriber) Transcribe(ctx context.Context, audio Audio) (string, error) {
	if len(audio.Data) == 0 {
		return "", fmt.Errorf("empty audio")
	}
	filename := audio.Filename
	if filename == "" {
		filename = "audio"
	}

	var out whisperResponse
	var apiErr whisperError
	resp, err := t.client.R().
		SetContext(ctx).
		SetFileReader("file", filename, bytes.NewReader(audio.Data)).
		SetFormData(map[string]string{
			"model":           t.model,
			"response_format": "json",
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post(whisperPath)
	if err != nil {
		return "", fmt.Errorf("whisper request: %w", err)
	}
	if resp.IsError() {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = resp.String()
		}
		return "", fmt.Errorf("whisper returned %d: %s", resp.StatusCode(), msg)
	}

	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", fmt.Errorf("whisper returned an empty transcription")
	}
	return text, nil
}
