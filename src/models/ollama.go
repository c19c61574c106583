package models

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"
)

// OllamaLLM runs turns against a local Ollama daemon. Useful for fully
// offline development of the companion.
type OllamaLLM struct {
	client *ollama.Client
	model  string
}

func NewOllamaLLM(model string) (*OllamaLLM, error) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid OLLAMA_HOST %q: %w", host, err)
	}
	if model == "" {
		model = "llama3.2"
	}
	return &OllamaLLM{
		client: ollama.NewClient(u, &http.Client{Timeout: 60 * time.Second}),
		model:  model,
	}, nil
}

func (o *OllamaLLM) Generate(ctx context.Context, system, user string) (string, error) {
	prompt := user
	if system != "" {
		prompt = fmt.Sprintf("%s\n\n%s", system, user)
	}

	var text strings.Builder
	req := &ollama.GenerateRequest{
		Model:  o.model,
		Prompt: prompt,
	}
	err := o.client.Generate(ctx, req, func(gr ollama.GenerateResponse) error {
		text.WriteString(gr.Response)
		return nil
	})
	if err != nil {
		return "", err
	}
	return text.String(), nil
}

var _ Agent = (*OllamaLLM)(nil)
