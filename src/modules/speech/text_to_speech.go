package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	elevenLabsBaseURL = "https://api.elevenlabs.io"

	// ElevenLabs rejects longer inputs on the flash models.
	maxSpeechChars = 5000
)

// TextToSpeech synthesizes voice notes through the ElevenLabs API.
type TextToSpeech struct {
	apiKey  string
	voiceID string
	model   string
	baseURL string
	client  *http.Client
}

func NewTextToSpeech(apiKey, voiceID, model string) (*TextToSpeech, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("speech: ElevenLabs API key is required")
	}
	if strings.TrimSpace(voiceID) == "" {
		return nil, errors.New("speech: voice ID is required")
	}
	if model == "" {
		model = "eleven_flash_v2_5"
	}
	return &TextToSpeech{
		apiKey:  apiKey,
		voiceID: voiceID,
		model:   model,
		baseURL: elevenLabsBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Synthesize returns audio bytes for the given text.
func (t *TextToSpeech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("speech: text is empty")
	}
	if len(text) > maxSpeechChars {
		return nil, fmt.Errorf("speech: text exceeds %d characters", maxSpeechChars)
	}

	body, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": t.model,
	})
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/v1/text-to-speech/%s", t.baseURL, t.voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech synthesize: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("speech synthesize: http %d: %s",
			resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return io.ReadAll(resp.Body)
}
