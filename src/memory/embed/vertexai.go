package embed

import (
	"context"
	"errors"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// VertexAIEmbedder uses Gemini embedding models.
// Requires GOOGLE_API_KEY (or GEMINI_API_KEY).
type VertexAIEmbedder struct {
	client *genai.Client
	model  string
}

func NewVertexAIEmbedder(model string) (Embedder, error) {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("VertexAIEmbedder: GOOGLE_API_KEY not set")
	}
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "text-embedding-004"
	}
	return &VertexAIEmbedder{client: client, model: model}, nil
}

func (e *VertexAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	em := e.client.EmbeddingModel(e.model)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, ErrNotSupported
	}
	return res.Embedding.Values, nil
}

// Close releases the underlying client.
func (e *VertexAIEmbedder) Close() error {
	return e.client.Close()
}
