// Package speech converts between voice notes and text: transcription via a
// Whisper-compatible endpoint and synthesis via ElevenLabs.
package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// SpeechToText transcribes audio with a Whisper model served over the OpenAI
// audio API. Groq hosts the default model.
type SpeechToText struct {
	client *openai.Client
	model  string
}

func NewSpeechToText(apiKey, model string) (*SpeechToText, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("speech: API key is required")
	}
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = groqBaseURL
	return &SpeechToText{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Transcribe converts voice note bytes to text. Empty audio is a validation
// error and never reaches the network.
func (s *SpeechToText) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("speech: audio data is empty")
	}

	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.model,
		FilePath: "audio.ogg",
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		return "", fmt.Errorf("speech transcribe: %w", err)
	}
	return resp.Text, nil
}
