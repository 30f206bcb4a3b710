package scoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GenAIScorer scores prompts with a Gemini model.
type GenAIScorer struct {
	client    *genai.Client
	model     string
	maxTokens int32

	// Timeout bounds each request; zero leaves it to ctx.
	Timeout time.Duration
}

// NewGenAIScorer creates a Gemini-backed scorer.
func NewGenAIScorer(ctx context.Context, apiKey, model string, maxTokens int32) (*GenAIScorer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIScorer{client: client, model: model, maxTokens: maxTokens}, nil
}

// Score implements Scorer.
func (g *GenAIScorer) Score(ctx context.Context, prompt string) (string, error) {
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		MaxOutputTokens: g.maxTokens,
	})
	if err != nil {
		if isRateLimit(err) {
			return "", fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("GenAI returned no text")
	}
	return text, nil
}

func isRateLimit(err error) bool {
	s := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "resource_exhausted", "rate limit", "quota"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
