// Runs the companion's WhatsApp webhook server: config from the environment,
// memory backend and models wired from it.
//
// Examples:
//
//	export GROQ_API_KEY=...
//	export WHATSAPP_TOKEN=... WHATSAPP_PHONE_NUMBER_ID=... WHATSAPP_VERIFY_TOKEN=...
//	go run ./cmd/companion -addr :8080
//
//	MEMORY_PROVIDER=qdrant QDRANT_URL=http://localhost:6333 go run ./cmd/companion
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/aria-labs/ai-companion/src/config"
	"github.com/aria-labs/ai-companion/src/interfaces/whatsapp"
	"github.com/aria-labs/ai-companion/src/memory"
	"github.com/aria-labs/ai-companion/src/memory/embed"
	"github.com/aria-labs/ai-companion/src/models"
	"github.com/aria-labs/ai-companion/src/modules/image"
	"github.com/aria-labs/ai-companion/src/modules/speech"
)

var (
	flagAddr    = flag.String("addr", ":8080", "HTTP listen address")
	flagTimeout = flag.Duration("timeout", 90*time.Second, "Per-request timeout")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fail(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := memory.NewStore(ctx, cfg, embed.AutoEmbedder())
	if err != nil {
		fail(fmt.Errorf("memory store: %w", err))
	}
	mgr := memory.NewManager(store, cfg.MemoryTopK)

	agent, err := models.NewLLMProvider(cfg, cfg.TextModelName)
	if err != nil {
		fail(fmt.Errorf("llm provider: %w", err))
	}

	responder, err := whatsapp.NewClient(cfg.WhatsAppToken, cfg.WhatsAppPhoneNumberID)
	if err != nil {
		fail(fmt.Errorf("whatsapp client: %w", err))
	}

	handler := whatsapp.NewHandler(cfg.WhatsAppVerifyToken, agent, mgr, responder)

	if stt, err := speech.NewSpeechToText(cfg.GroqAPIKey, cfg.STTModelName); err == nil {
		var tts whatsapp.Synthesizer
		if t, err := speech.NewTextToSpeech(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID, cfg.TTSModelName); err == nil {
			tts = t
		} else {
			log.Printf("voice replies disabled: %v", err)
		}
		handler.WithSpeech(stt, tts)
	} else {
		log.Printf("voice notes disabled: %v", err)
	}

	if itt, err := image.NewImageToText(cfg.GroqAPIKey, cfg.ITTModelName); err == nil {
		handler.WithVision(itt)
	} else {
		log.Printf("image understanding disabled: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/whatsapp_response", handler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         *flagAddr,
		Handler:      mux,
		ReadTimeout:  *flagTimeout,
		WriteTimeout: *flagTimeout,
	}
	log.Printf("companion listening on %s (memory=%s, provider=%s)",
		*flagAddr, cfg.MemoryProvider, cfg.LLMProvider)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
