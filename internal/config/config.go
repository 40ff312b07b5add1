package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string
	PublicHost  string

	AssemblyAIKey string

	CerebrasKey     string
	CerebrasModelID string

	ElevenLabsKey     string
	ElevenLabsVoiceID string
	DeepgramKey       string
	DeepgramModelID   string

	TwilioAccountSID string
	TwilioAuthToken  string

	SupabaseURL string
	SupabaseKey string

	DefaultFlowID string
	// SimulationMode swaps the live LLM reasoner for the deterministic one.
	SimulationMode bool
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	assemblyAIKey := os.Getenv("ASSEMBLYAI_API_KEY")
	if assemblyAIKey == "" {
		log.Println("Warning: ASSEMBLYAI_API_KEY not set - transcription will not work")
	}

	cerebrasKey := os.Getenv("CEREBRAS_API_KEY")
	cerebrasModel := os.Getenv("CEREBRAS_MODEL_ID")
	if cerebrasModel == "" {
		cerebrasModel = "gpt-oss-120b"
	}
	if cerebrasKey == "" {
		log.Println("Warning: CEREBRAS_API_KEY not set - live reasoning will not work")
	}

	elevenKey := os.Getenv("ELEVENLABS_API_KEY")
	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	if elevenKey == "" && deepgramKey == "" {
		log.Println("Warning: no TTS key set (ELEVENLABS_API_KEY or DEEPGRAM_API_KEY) - synthesis will not work")
	}

	twilioToken := os.Getenv("TWILIO_AUTH_TOKEN")
	if twilioToken == "" {
		log.Println("Warning: TWILIO_AUTH_TOKEN not set - telephony webhooks will reject requests")
	}

	supabaseURL := os.Getenv("SUPABASE_URL")
	supabaseKey := os.Getenv("SUPABASE_SERVICE_ROLE_KEY")
	if supabaseURL == "" || supabaseKey == "" {
		log.Println("Warning: SUPABASE_URL/SUPABASE_SERVICE_ROLE_KEY not set - using in-memory flow store")
	}

	log.Printf("config: HTTP_ADDRESS=%s", addr)
	return Config{
		HTTPAddress:       addr,
		PublicHost:        os.Getenv("PUBLIC_HOST"),
		AssemblyAIKey:     assemblyAIKey,
		CerebrasKey:       cerebrasKey,
		CerebrasModelID:   cerebrasModel,
		ElevenLabsKey:     elevenKey,
		ElevenLabsVoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),
		DeepgramKey:       deepgramKey,
		DeepgramModelID:   os.Getenv("DEEPGRAM_MODEL_ID"),
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   twilioToken,
		SupabaseURL:       supabaseURL,
		SupabaseKey:       supabaseKey,
		DefaultFlowID:     os.Getenv("DEFAULT_FLOW_ID"),
		SimulationMode:    os.Getenv("SIMULATION_MODE") == "true",
	}
}
