// Package whatsapp receives WhatsApp Cloud API webhook events and replies
// through the companion's model, with memory, voice and vision wired in.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aria-labs/ai-companion/src/cache"
	"github.com/aria-labs/ai-companion/src/memory"
	"github.com/aria-labs/ai-companion/src/models"
)

const defaultPersona = "You are Aria, a warm and attentive companion. Reply briefly and naturally, like a close friend texting."

// Transcriber converts a voice note to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Synthesizer converts reply text to a voice note.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Describer converts an image to a text description.
type Describer interface {
	Describe(ctx context.Context, image []byte, prompt string) (string, error)
}

// Handler is the webhook endpoint. The Cloud API redelivers events until it
// sees a 2xx, so message IDs are remembered in an LRU and duplicates are
// acknowledged without running the pipeline again. The cache itself does no
// locking; the handler's mutex serializes access.
type Handler struct {
	verifyToken string
	agent       models.Agent
	memory      *memory.Manager
	responder   Responder
	stt         Transcriber
	tts         Synthesizer
	itt         Describer

	mu   sync.Mutex
	seen *cache.LRUCache
}

func NewHandler(verifyToken string, agent models.Agent, mgr *memory.Manager, responder Responder) *Handler {
	return &Handler{
		verifyToken: verifyToken,
		agent:       agent,
		memory:      mgr,
		responder:   responder,
		seen:        cache.NewLRUCache(cache.DefaultCapacity),
	}
}

// WithSpeech enables voice notes: inbound audio is transcribed, and when
// synthesis is available the reply to an audio message is spoken back.
func (h *Handler) WithSpeech(stt Transcriber, tts Synthesizer) *Handler {
	h.stt = stt
	h.tts = tts
	return h
}

// WithVision enables image understanding.
func (h *Handler) WithVision(itt Describer) *Handler {
	h.itt = itt
	return h
}

// webhookPayload mirrors the Cloud API event envelope, down to the parts the
// companion reads.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []inboundMessage `json:"messages"`
				Statuses []json.RawMessage `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
	Audio struct {
		ID string `json:"id"`
	} `json:"audio"`
	Image struct {
		ID      string `json:"id"`
		Caption string `json:"caption"`
	} `json:"image"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.verify(w, r)
	case http.MethodPost:
		h.handleEvent(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// verify answers the Cloud API subscription handshake.
func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == h.verifyToken {
		_, _ = io.WriteString(w, q.Get("hub.challenge"))
		return
	}
	http.Error(w, "verification failed", http.StatusForbidden)
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if len(change.Value.Messages) > 0 {
				h.handleMessage(r.Context(), w, change.Value.Messages[0])
				return
			}
			if len(change.Value.Statuses) > 0 {
				// Delivery receipts need nothing beyond the ack.
				_, _ = io.WriteString(w, "ok")
				return
			}
		}
	}
	http.Error(w, "unknown event", http.StatusBadRequest)
}

func (h *Handler) handleMessage(ctx context.Context, w http.ResponseWriter, msg inboundMessage) {
	if h.alreadySeen(msg.ID) {
		_, _ = io.WriteString(w, "duplicate")
		return
	}

	content, err := h.messageContent(ctx, msg)
	if err != nil {
		log.Printf("whatsapp message %s: %v", msg.ID, err)
		http.Error(w, "failed to read message", http.StatusInternalServerError)
		return
	}

	reply, err := h.respond(ctx, content)
	if err != nil {
		log.Printf("whatsapp message %s: generate: %v", msg.ID, err)
		http.Error(w, "failed to generate response", http.StatusInternalServerError)
		return
	}

	// Reply in kind: a voice note gets a voice note back when synthesis is
	// available.
	if msg.Type == "audio" && h.tts != nil {
		audio, err := h.tts.Synthesize(ctx, reply)
		if err == nil {
			if err := h.responder.SendAudio(ctx, msg.From, audio); err == nil {
				_, _ = io.WriteString(w, "ok")
				return
			}
			log.Printf("whatsapp message %s: send audio failed, falling back to text", msg.ID)
		} else {
			log.Printf("whatsapp message %s: synthesize: %v", msg.ID, err)
		}
	}

	if err := h.responder.SendText(ctx, msg.From, reply); err != nil {
		log.Printf("whatsapp message %s: send: %v", msg.ID, err)
		http.Error(w, "failed to send response", http.StatusInternalServerError)
		return
	}
	_, _ = io.WriteString(w, "ok")
}

func (h *Handler) alreadySeen(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.seen.Get(id); ok {
		return true
	}
	h.seen.Put(id, struct{}{})
	return false
}

// messageContent extracts text from the message, transcribing audio and
// describing images as needed.
func (h *Handler) messageContent(ctx context.Context, msg inboundMessage) (string, error) {
	switch msg.Type {
	case "audio":
		if h.stt == nil {
			return "", fmt.Errorf("audio message but no transcriber configured")
		}
		data, err := h.responder.DownloadMedia(ctx, msg.Audio.ID)
		if err != nil {
			return "", err
		}
		return h.stt.Transcribe(ctx, data)
	case "image":
		content := msg.Image.Caption
		if h.itt != nil {
			data, err := h.responder.DownloadMedia(ctx, msg.Image.ID)
			if err != nil {
				return "", err
			}
			description, err := h.itt.Describe(ctx, data, msg.Image.Caption)
			if err != nil {
				return "", err
			}
			content = strings.TrimSpace(content + "\n[Image: " + description + "]")
		}
		if content == "" {
			content = "[Image]"
		}
		return content, nil
	default:
		return msg.Text.Body, nil
	}
}

// respond composes the system prompt from the persona and recalled memories,
// generates the reply, then persists the inbound message as a memory. A
// failed write is logged but does not block the reply.
func (h *Handler) respond(ctx context.Context, content string) (string, error) {
	system := defaultPersona
	if h.memory != nil {
		if block := h.memory.MemoryBlock(ctx, content); block != "" {
			system = system + "\n\n" + block
		}
	}

	reply, err := h.agent.Generate(ctx, system, content)
	if err != nil {
		return "", err
	}

	if h.memory != nil && strings.TrimSpace(content) != "" {
		meta := map[string]any{"timestamp": time.Now()}
		if err := h.memory.Remember(ctx, content, meta); err != nil {
			log.Printf("whatsapp remember %q: %v", content, err)
		}
	}
	return reply, nil
}
