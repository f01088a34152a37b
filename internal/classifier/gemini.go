package classifier

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"txcat/internal/core"
	"txcat/internal/log"
)

const DefaultModel = "gemini-2.0-flash"

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini classifies descriptions with a single enum-constrained model call.
type Gemini struct {
	models generator
	model  string
	logger *log.Logger
}

func NewGemini(ctx context.Context, apiKey, model string, logger *log.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGemini(client.Models, model, logger), nil
}

func newGemini(models generator, model string, logger *log.Logger) *Gemini {
	if model == "" {
		model = DefaultModel
	}
	return &Gemini{
		models: models,
		model:  model,
		logger: logger.WithComponent(log.ComponentClassifier),
	}
}

func prompt(description string) string {
	return fmt.Sprintf("Categorize this transaction description: %q", description)
}

func (g *Gemini) Classify(ctx context.Context, description string) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "text/x.enum",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeString,
			Enum: core.Vocabulary,
		},
	}

	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt(description)), config)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	label := strings.TrimSpace(resp.Text())
	if !core.IsKnownCategory(label) {
		return "", fmt.Errorf("%w: %q", ErrUnknownLabel, label)
	}

	g.logger.DebugContext(ctx, "Description classified",
		log.FieldDescription, description,
		log.FieldCategory, label)

	return label, nil
}
