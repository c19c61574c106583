// Package image describes incoming photos with a vision model so they can be
// folded into the text conversation.
package image

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

const defaultPrompt = "Please describe what you see in this image."

// ImageToText turns an image into a short description through a
// vision-capable chat model.
type ImageToText struct {
	client *openai.Client
	model  string
}

func NewImageToText(apiKey, model string) (*ImageToText, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("image: API key is required")
	}
	if model == "" {
		model = "llama-3.2-90b-vision-preview"
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = groqBaseURL
	return &ImageToText{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Describe analyzes image bytes. An empty image is a validation error; an
// empty prompt falls back to a generic description request.
func (i *ImageToText) Describe(ctx context.Context, data []byte, prompt string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("image: image data is empty")
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = defaultPrompt
	}

	dataURL := fmt.Sprintf("data:image/jpeg;base64,%s", base64.StdEncoding.EncodeToString(data))
	resp, err := i.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: i.model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: dataURL},
				},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("image describe: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("image: empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}
