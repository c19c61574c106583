package models

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// OpenAILLM speaks the OpenAI chat completions API. Groq exposes the same
// surface, so the Groq provider is this client pointed at Groq's base URL.
type OpenAILLM struct {
	client *openai.Client
	model  string
}

func NewOpenAILLM(apiKey, model string) (*OpenAILLM, error) {
	return newOpenAICompatible(apiKey, model, "")
}

func NewGroqLLM(apiKey, model string) (*OpenAILLM, error) {
	return newOpenAICompatible(apiKey, model, groqBaseURL)
}

func newOpenAICompatible(apiKey, model, baseURL string) (*OpenAILLM, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("models: API key is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("models: model name is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAILLM{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

func (o *OpenAILLM) Generate(ctx context.Context, system, user string) (string, error) {
	messages := []openai.ChatCompletionMessage{}
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: user,
	})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("models: empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}

var _ Agent = (*OpenAILLM)(nil)
