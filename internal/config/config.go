package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	OpenAIKey          string
	OpenAIChatModel    string
	OpenAIWhisperModel string
	TranscriptLanguage string

	ElevenLabsKey     string
	ElevenLabsVoiceID string

	SupabaseURL     string
	SupabaseAnonKey string

	SessionTTL   time.Duration
	ClosingDelay time.Duration

	MinRecordingSeconds int
	MinRecordingBytes   int
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file loaded")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	openAIKey := os.Getenv("OPENAI_API_KEY")
	if openAIKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set - transcription and dialogue will not work")
	}
	chatModel := os.Getenv("OPENAI_CHAT_MODEL")
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
	}
	whisperModel := os.Getenv("OPENAI_WHISPER_MODEL")
	if whisperModel == "" {
		whisperModel = "whisper-1"
	}
	language := os.Getenv("TRANSCRIPT_LANGUAGE")
	if language == "" {
		language = "en"
	}

	elevenKey := os.Getenv("ELEVENLABS_API_KEY")
	if elevenKey == "" {
		log.Println("Warning: ELEVENLABS_API_KEY not set - interviewer speech will not work")
	}
	voiceID := os.Getenv("ELEVENLABS_VOICE_ID")
	if voiceID == "" {
		log.Println("Warning: ELEVENLABS_VOICE_ID not set - set a concrete voice ID from your ElevenLabs dashboard")
	}

	supabaseURL := os.Getenv("SUPABASE_URL")
	supabaseAnon := os.Getenv("SUPABASE_ANON_KEY")
	if supabaseURL == "" || supabaseAnon == "" {
		log.Println("Warning: SUPABASE_URL or SUPABASE_ANON_KEY not set - interview records will not persist")
	}

	log.Printf("config: HTTP_ADDRESS=%s", addr)
	return Config{
		HTTPAddress:         addr,
		OpenAIKey:           openAIKey,
		OpenAIChatModel:     chatModel,
		OpenAIWhisperModel:  whisperModel,
		TranscriptLanguage:  language,
		ElevenLabsKey:       elevenKey,
		ElevenLabsVoiceID:   voiceID,
		SupabaseURL:         supabaseURL,
		SupabaseAnonKey:     supabaseAnon,
		SessionTTL:          envDuration("SESSION_TTL", 2*time.Hour),
		ClosingDelay:        envDuration("CLOSING_DELAY", 2*time.Second),
		MinRecordingSeconds: envInt("MIN_RECORDING_SECONDS", 1),
		MinRecordingBytes:   envInt("MIN_RECORDING_BYTES", 1024),
	}
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using %s", key, v, def)
		return def
	}
	return d
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using %d", key, v, def)
		return def
	}
	return n
}
