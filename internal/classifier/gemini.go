package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type geminiClassifier struct {
	client *genai.Client
	model  string
}

func NewGeminiClassifier(ctx context.Context, apiKey, model string) (Classifier, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini classifier requires an API key")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &geminiClassifier{client: client, model: model}, nil
}

func (c *geminiClassifier) Name() string { return ProviderGemini }

func (c *geminiClassifier) Classify(ctx context.Context, image []byte, mimeType string, description string) (Verdict, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image, mimeType),
			genai.NewPartFromText(BuildPrompt(description)),
		}, genai.RoleUser),
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.1),
		MaxOutputTokens: 500,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Verdict{}, ctx.Err()
		}
		return Verdict{}, fmt.Errorf("%w: gemini: %v", ErrUnavailable, err)
	}
	return ParseVerdict(resp.Text()), nil
}
