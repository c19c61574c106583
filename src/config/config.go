package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Provider selects the chat model vendor.
type Provider string

const (
	ProviderGroq      Provider = "groq"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderOllama    Provider = "ollama"
)

// Settings carries everything the process reads from the environment. Loaded
// once at startup and passed by reference; no package-level instance.
type Settings struct {
	LLMProvider     Provider
	GroqAPIKey      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	TogetherAPIKey  string

	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string

	// MemoryProvider picks the long-term memory backend:
	// qdrant|weaviate|chromem|mongo|postgres.
	MemoryProvider string
	QdrantURL      string
	QdrantAPIKey   string
	WeaviateHost   string
	WeaviatePort   int
	MongoURI       string
	MongoDatabase  string
	PostgresDSN    string

	TextModelName      string
	SmallTextModelName string
	STTModelName       string
	TTSModelName       string
	ITTModelName       string

	MemoryTopK int

	WhatsAppToken         string
	WhatsAppPhoneNumberID string
	WhatsAppVerifyToken   string
}

// Load reads settings from the environment, after best-effort loading a
// local .env file.
func Load() (*Settings, error) {
	_ = godotenv.Load()

	s := &Settings{
		LLMProvider:     Provider(getenv("LLM_PROVIDER", string(ProviderGroq))),
		GroqAPIKey:      os.Getenv("GROQ_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		TogetherAPIKey:  os.Getenv("TOGETHER_API_KEY"),

		ElevenLabsAPIKey:  os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),

		MemoryProvider: getenv("MEMORY_PROVIDER", "chromem"),
		QdrantURL:      os.Getenv("QDRANT_URL"),
		QdrantAPIKey:   os.Getenv("QDRANT_API_KEY"),
		WeaviateHost:   os.Getenv("WEAVIATE_HOST"),
		WeaviatePort:   getenvInt("WEAVIATE_PORT", 8080),
		MongoURI:       os.Getenv("MONGODB_URI"),
		MongoDatabase:  getenv("MONGODB_DATABASE", "ai_companion"),
		PostgresDSN:    os.Getenv("POSTGRES_DSN"),

		TextModelName:      os.Getenv("TEXT_MODEL_NAME"),
		SmallTextModelName: os.Getenv("SMALL_TEXT_MODEL_NAME"),
		STTModelName:       getenv("STT_MODEL_NAME", "whisper-large-v3-turbo"),
		TTSModelName:       getenv("TTS_MODEL_NAME", "eleven_flash_v2_5"),
		ITTModelName:       getenv("ITT_MODEL_NAME", "llama-3.2-90b-vision-preview"),

		MemoryTopK: getenvInt("MEMORY_TOP_K", 3),

		WhatsAppToken:         os.Getenv("WHATSAPP_TOKEN"),
		WhatsAppPhoneNumberID: os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
		WhatsAppVerifyToken:   os.Getenv("WHATSAPP_VERIFY_TOKEN"),
	}

	if s.TextModelName == "" {
		s.TextModelName = defaultTextModel(s.LLMProvider)
	}
	if s.SmallTextModelName == "" {
		s.SmallTextModelName = defaultSmallTextModel(s.LLMProvider)
	}
	return s, nil
}

func defaultTextModel(p Provider) string {
	switch p {
	case ProviderOpenAI:
		return "gpt-4o-2024-08-06"
	case ProviderAnthropic:
		return "claude-sonnet-4-20250514"
	default:
		return "llama-3.3-70b-versatile"
	}
}

func defaultSmallTextModel(p Provider) string {
	switch p {
	case ProviderOpenAI:
		return "gpt-4o-mini-2024-07-18"
	case ProviderAnthropic:
		return "claude-3-5-haiku-20241022"
	default:
		return "gemma2-9b-it"
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
