package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultModel        = "models/gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultVoice        = "Zephyr"
	DefaultGreeting     = "Connecting you to the assistant now."
	DefaultIVRPrompt    = "How can I help you?"
	DefaultSystemPrompt = `You are a friendly and concise voice assistant. Answer the caller's questions
clearly, keep replies short enough to be spoken aloud, and ask a follow-up question
when the request is ambiguous. Never invent facts you were not given.`
)

// Config holds all server configuration
type Config struct {
	Port          int
	TwilioPort    int    // Port for the telephony server (used when ServerType is "both")
	ServerType    string // "websocket", "twilio", or "both"
	PublicHost    string // host used in the media stream callback URL; request Host when empty
	RedisURL      string // empty disables the session mirror
	RedisPassword string

	MaxSessions     int
	SessionTimeout  time.Duration
	AllowedOrigins  []string
	KeepAlivePeriod time.Duration

	MaxBufferSize      int // Maximum coalescing buffer size in bytes per session
	AudioCoalesceBytes int // 0 forwards every inbound chunk immediately

	GeminiAPIKey  string
	GeminiModel   string
	VoiceName     string
	GoogleSearch  bool
	SystemPrompt  string
	KnowledgeText string

	Greeting            string
	IVRPrompt           string
	IVRTimeout          time.Duration
	TwilioOutboundMuLaw bool

	LogLevel  string
	LogFormat string
}

// Load reads an optional env file before LoadConfig. A missing default .env is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}
	return LoadConfig()
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Port:            8080,
		TwilioPort:      8081,
		ServerType:      "websocket",
		RedisURL:        "localhost:6379",
		MaxSessions:     100,
		SessionTimeout:  30 * time.Minute,
		AllowedOrigins:  []string{"*"},
		KeepAlivePeriod: 30 * time.Second,
		MaxBufferSize:   5 * 1024 * 1024, // 5MB default
		GeminiModel:     DefaultModel,
		VoiceName:       DefaultVoice,
		SystemPrompt:    DefaultSystemPrompt,
		Greeting:        DefaultGreeting,
		IVRPrompt:       DefaultIVRPrompt,
		IVRTimeout:      8 * time.Second,
		LogLevel:        "info",
		LogFormat:       "json",
	}

	// Required: GEMINI_API_KEY
	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if config.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	var err error
	if config.Port, err = intEnv("PORT", config.Port); err != nil {
		return nil, err
	}
	if config.TwilioPort, err = intEnv("TWILIO_PORT", config.TwilioPort); err != nil {
		return nil, err
	}
	if config.MaxSessions, err = intEnv("MAX_SESSIONS", config.MaxSessions); err != nil {
		return nil, err
	}
	if config.MaxBufferSize, err = intEnv("MAX_BUFFER_SIZE", config.MaxBufferSize); err != nil {
		return nil, err
	}
	if config.AudioCoalesceBytes, err = intEnv("AUDIO_COALESCE_BYTES", config.AudioCoalesceBytes); err != nil {
		return nil, err
	}
	if config.AudioCoalesceBytes > config.MaxBufferSize {
		return nil, fmt.Errorf("invalid AUDIO_COALESCE_BYTES: exceeds MAX_BUFFER_SIZE (%d)", config.MaxBufferSize)
	}

	// SESSION_TIMEOUT is in minutes
	if config.SessionTimeout, err = durationEnv("SESSION_TIMEOUT", time.Minute, config.SessionTimeout); err != nil {
		return nil, err
	}
	// KEEPALIVE_PERIOD and IVR_TIMEOUT are in seconds
	if config.KeepAlivePeriod, err = durationEnv("KEEPALIVE_PERIOD", time.Second, config.KeepAlivePeriod); err != nil {
		return nil, err
	}
	if config.IVRTimeout, err = durationEnv("IVR_TIMEOUT", time.Second, config.IVRTimeout); err != nil {
		return nil, err
	}

	if config.GoogleSearch, err = boolEnv("GEMINI_GOOGLE_SEARCH", config.GoogleSearch); err != nil {
		return nil, err
	}
	if config.TwilioOutboundMuLaw, err = boolEnv("TWILIO_OUTBOUND_MULAW", config.TwilioOutboundMuLaw); err != nil {
		return nil, err
	}

	// REDIS_URL may be set to an empty value to disable the mirror
	if redisURL, ok := os.LookupEnv("REDIS_URL"); ok {
		config.RedisURL = redisURL
	}
	config.RedisPassword = stringEnv("REDIS_PASSWORD", config.RedisPassword)
	config.PublicHost = stringEnv("PUBLIC_HOST", config.PublicHost)
	config.GeminiModel = stringEnv("GEMINI_MODEL", config.GeminiModel)
	config.VoiceName = stringEnv("GEMINI_VOICE", config.VoiceName)
	config.Greeting = stringEnv("GREETING", config.Greeting)
	config.IVRPrompt = stringEnv("IVR_PROMPT", config.IVRPrompt)
	config.LogLevel = strings.ToLower(stringEnv("LOG_LEVEL", config.LogLevel))
	config.LogFormat = strings.ToLower(stringEnv("LOG_FORMAT", config.LogFormat))

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				config.AllowedOrigins = append(config.AllowedOrigins, o)
			}
		}
	}

	// SYSTEM_PROMPT wins over SYSTEM_PROMPT_FILE
	if prompt := os.Getenv("SYSTEM_PROMPT"); prompt != "" {
		config.SystemPrompt = prompt
	} else if path := os.Getenv("SYSTEM_PROMPT_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("invalid SYSTEM_PROMPT_FILE: %w", err)
		}
		config.SystemPrompt = string(b)
	}

	if path := os.Getenv("KNOWLEDGE_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("invalid KNOWLEDGE_FILE: %w", err)
		}
		config.KnowledgeText = string(b)
	}

	if serverType := os.Getenv("SERVER_TYPE"); serverType != "" {
		config.ServerType = serverType
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks values that may also be overridden by flags after loading.
func (c *Config) Validate() error {
	switch c.ServerType {
	case "websocket", "twilio", "both":
	default:
		return fmt.Errorf("invalid SERVER_TYPE: must be 'websocket', 'twilio', or 'both'")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL: %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %q", c.LogFormat)
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("invalid MAX_SESSIONS: must be positive")
	}
	return nil
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return n, nil
}

func durationEnv(key string, unit time.Duration, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(n) * unit, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
