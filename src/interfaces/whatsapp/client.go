package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const graphAPIBase = "https://graph.facebook.com/v22.0"

// Responder sends replies and fetches inbound media. The concrete Client
// talks to the WhatsApp Cloud API; tests substitute a recorder.
type Responder interface {
	SendText(ctx context.Context, to, text string) error
	SendAudio(ctx context.Context, to string, audio []byte) error
	DownloadMedia(ctx context.Context, mediaID string) ([]byte, error)
}

// Client is the WhatsApp Cloud API (Graph API) client.
type Client struct {
	token         string
	phoneNumberID string
	baseURL       string
	http          *http.Client
}

func NewClient(token, phoneNumberID string) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("whatsapp: access token is required")
	}
	if strings.TrimSpace(phoneNumberID) == "" {
		return nil, errors.New("whatsapp: phone number ID is required")
	}
	return &Client{
		token:         token,
		phoneNumberID: phoneNumberID,
		baseURL:       graphAPIBase,
		http:          &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *Client) SendText(ctx context.Context, to, text string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]any{"body": text},
	}
	return c.postMessage(ctx, payload)
}

// SendAudio uploads the audio bytes as media, then references the returned
// media ID in an audio message.
func (c *Client) SendAudio(ctx context.Context, to string, audio []byte) error {
	mediaID, err := c.uploadMedia(ctx, audio)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "audio",
		"audio":             map[string]any{"id": mediaID},
	}
	return c.postMessage(ctx, payload)
}

// DownloadMedia resolves the media ID to its URL, then fetches the bytes.
// Both calls carry the bearer token.
func (c *Client) DownloadMedia(ctx context.Context, mediaID string) ([]byte, error) {
	var meta struct {
		URL string `json:"url"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("%s/%s", c.baseURL, mediaID), &meta); err != nil {
		return nil, fmt.Errorf("whatsapp media lookup: %w", err)
	}
	if meta.URL == "" {
		return nil, fmt.Errorf("whatsapp media %s has no URL", mediaID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp media download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("whatsapp media download: http %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) uploadMedia(ctx context.Context, audio []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("messaging_product", "whatsapp"); err != nil {
		return "", err
	}
	if err := mw.WriteField("type", "audio/mpeg"); err != nil {
		return "", err
	}
	part, err := mw.CreateFormFile("file", "response.mp3")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	u := fmt.Sprintf("%s/%s/media", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp media upload: %w", err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("whatsapp media upload: http %d: %s",
			resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("whatsapp media upload: no media ID in response")
	}
	return out.ID, nil
}

func (c *Client) postMessage(ctx context.Context, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("whatsapp send: http %d: %s",
			resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ Responder = (*Client)(nil)
