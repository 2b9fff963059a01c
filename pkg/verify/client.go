// Package verify provides the secondary verification client. Verification
// only re-scores existing values; it never produces new data.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

// FieldContext carries everything a verifier needs to assess one field.
type FieldContext struct {
	UniversityName string
	ProgramName    string
	FieldName      string
	Value          string
	SourceURL      string
	Confidence     float64
}

// Result is the verifier's assessment of a field value.
type Result struct {
	Confidence  float64 `json:"confidence"`
	IsValid     bool    `json:"is_valid"`
	NeedsReview bool    `json:"needs_review"`
	Notes       string  `json:"notes,omitempty"`
}

// Client assesses extracted field values. Implementations must never invent
// replacement values; they only score what they are given.
type Client interface {
	Verify(ctx context.Context, fc FieldContext) (*Result, error)
}

const verifyPrompt = `You are a data verification assistant. Your task is to VERIFY existing data, not generate new data.

Program: %s
University: %s
Field: %s
Value to verify: %s
Source URL: %s
Extraction confidence: %.0f

Instructions:
1. Check whether the value makes sense for this field
2. If the value seems incorrect or ambiguous, say so
3. DO NOT generate a new value - only verify the existing one
4. Return a confidence score (0-100) for the value

Respond with JSON only:
{"confidence": 0-100, "is_valid": true/false, "needs_review": true/false, "notes": "brief explanation"}`

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client sdk.Client
	model  string
}

// NewClient creates a verification client backed by the SDK.
func NewClient(apiKey, model string) Client {
	return &sdkClient{
		client: sdk.NewClient(
			option.WithAPIKey(apiKey),
		),
		model: model,
	}
}

func (c *sdkClient) Verify(ctx context.Context, fc FieldContext) (*Result, error) {
	prompt := fmt.Sprintf(verifyPrompt,
		fc.ProgramName, fc.UniversityName, fc.FieldName, fc.Value, fc.SourceURL, fc.Confidence)

	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: 512,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "verify: create message")
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	result, err := parseResult(text.String())
	if err != nil {
		return nil, eris.Wrapf(err, "verify: parse response for %s", fc.FieldName)
	}
	return result, nil
}

// parseResult extracts the JSON object from a model response, tolerating
// surrounding prose and code fences.
func parseResult(text string) (*Result, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, eris.New("no JSON object in response")
	}

	var result Result
	if err := json.Unmarshal([]byte(text[start:end+1]), &result); err != nil {
		return nil, eris.Wrap(err, "unmarshal result")
	}

	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 100 {
		result.Confidence = 100
	}
	return &result, nil
}
