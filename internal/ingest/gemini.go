package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

const transcribePrompt = `Transcribe this recording verbatim. Reply with the transcription only, without commentary.`

const extractInstruction = `
You read short spoken notes about quantities recorded for a person, for
example "Anu had 2 litres of milk" or "add three kilos of rice for Ravi yesterday".

Reply with a JSON object:
- name: the person the note is about, as spoken
- quantity_entries: every quantity mentioned, as numbers
- unit: the unit of measure, singular, lower case, or "" if none
- item: what was measured, or "" if none
- selected_date: the day the note refers to as YYYY-MM-DD, or "" if it does not say

Today is %s. Resolve relative days such as "yesterday" against it.
`

// NewGeminiClient creates a client for the Gemini API.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gemini client: %w", err)
	}
	return client, nil
}

// GeminiTranscriber transcribes audio sent inline to a Gemini model.
type GeminiTranscriber struct {
	client *genai.Client
	model  string
}

func NewGeminiTranscriber(client *genai.Client, model string) *GeminiTranscriber {
	return &GeminiTranscriber{client: client, model: model}
}

func (t *GeminiTranscriber) Transcribe(ctx context.Context, audio Audio) (string, error) {
	if len(audio.Data) == 0 {
		return "", fmt.Errorf("empty audio")
	}
	temperature := float32(0)
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: transcribePrompt},
			{InlineData: &genai.Blob{MIMEType: audio.MIMEType, Data: audio.Data}},
		},
	}}
	resp, err := t.client.Models.GenerateContent(ctx, t.model, contents, &genai.GenerateContentConfig{
		Temperature: &temperature,
	})
	if err != nil {
		return "", fmt.Errorf("gemini transcription: %w", err)
	}
	return responseText(resp)
}

// GeminiExtractor extracts candidates with JSON-mode generation constrained
// by a response schema.
type GeminiExtractor struct {
	client *genai.Client
	model  string
	now    func() time.Time
}

func NewGeminiExtractor(client *genai.Client, model string) *GeminiExtractor {
	return &GeminiExtractor{client: client, model: model, now: time.Now}
}

func (e *GeminiExtractor) Extract(ctx context.Context, text string) (*Candidate, error) {
	temperature := float32(0)
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{
			Text: fmt.Sprintf(extractInstruction, e.now().UTC().Format("2006-01-02")),
		}}},
		ResponseMIMEType: "application/json",
		ResponseSchema:   candidateSchema,
		Temperature:      &temperature,
	}
	contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: text}}}}

	resp, err := e.client.Models.GenerateContent(ctx, e.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini extraction: %w", err)
	}
	reply, err := responseText(resp)
	if err != nil {
		return nil, err
	}
	return ParseCandidate(reply)
}

var candidateSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"name": {Type: genai.TypeString, Description: "Person the note is about."},
		"quantity_entries": {
			Type:        genai.TypeArray,
			Items:       &genai.Schema{Type: genai.TypeNumber},
			Description: "Quantities mentioned, in order.",
		},
		"unit":          {Type: genai.TypeString},
		"item":          {Type: genai.TypeString},
		"selected_date": {Type: genai.TypeString, Description: "YYYY-MM-DD or empty."},
	},
	Required: []string{"name", "quantity_entries"},
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no response from gemini")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("empty response from gemini")
	}
	return text, nil
}
