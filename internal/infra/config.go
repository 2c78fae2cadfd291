package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"shortforge/internal/domain"
)

// Storage backends selectable with STORAGE_BACKEND.
const (
	StorageFS       = "fs"
	StorageMemory   = "memory"
	StorageGCS      = "gcs"
	StorageS3       = "s3"
	StoragePostgres = "postgres"
)

// DefaultChains is the provider preference per job kind when the matching
// <KIND>_PROVIDERS variable is unset.
var DefaultChains = map[domain.JobKind][]string{
	domain.JobKindText:   {"gemini", "openai", "qwen", "synthetic"},
	domain.JobKindImage:  {"qwen", "gemini", "openai", "synthetic"},
	domain.JobKindSpeech: {"elevenlabs", "openai", "synthetic"},
	domain.JobKindVideo:  {"veo", "qwen", "synthetic"},
	domain.JobKindMusic:  {"elevenlabs", "synthetic"},
}

// PollSettings overrides a provider's poll policy. Zero fields keep the
// provider default.
type PollSettings struct {
	Attempts int
	Interval time.Duration
}

// ProviderSettings holds one provider's endpoint and model overrides.
type ProviderSettings struct {
	APIKey     string
	BaseURL    string
	TextModel  string
	ImageModel string
	VideoModel string
	AudioModel string
}

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv   string
	LogLevel string
	Port     string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int

	StorageBackend string
	StoragePath    string
	GCSBucket      string
	GCSPrefix      string
	S3Bucket       string
	S3Region       string
	S3Prefix       string
	S3Endpoint     string
	DatabaseURL    string

	Gemini            ProviderSettings
	Qwen              ProviderSettings
	OpenAI            ProviderSettings
	OpenAIOrg         string
	ElevenLabs        ProviderSettings
	ElevenLabsVoiceID string
	SyntheticProvider bool

	Chains map[domain.JobKind][]string
	Polls  map[string]PollSettings

	ImageConcurrency int
	AudioConcurrency int
	VideoSceneDelay  time.Duration
	FFmpegPath       string
}

// LoadConfig reads .env and .env.local when present, then the environment,
// and applies defaults where needed.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		Port:             getEnv("PORT", "8080"),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", StorageFS)),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		GCSBucket:      os.Getenv("GCS_BUCKET"),
		GCSPrefix:      os.Getenv("GCS_PREFIX"),
		S3Bucket:       os.Getenv("S3_BUCKET"),
		S3Region:       getEnv("S3_REGION", "us-east-1"),
		S3Prefix:       os.Getenv("S3_PREFIX"),
		S3Endpoint:     os.Getenv("S3_ENDPOINT"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),

		Gemini: ProviderSettings{
			APIKey:     os.Getenv("GEMINI_API_KEY"),
			BaseURL:    os.Getenv("GEMINI_BASE_URL"),
			TextModel:  os.Getenv("GEMINI_MODEL"),
			ImageModel: os.Getenv("GEMINI_IMAGE_MODEL"),
			VideoModel: os.Getenv("VEO_MODEL"),
		},
		Qwen: ProviderSettings{
			APIKey:     os.Getenv("DASHSCOPE_API_KEY"),
			BaseURL:    os.Getenv("DASHSCOPE_BASE_URL"),
			TextModel:  os.Getenv("QWEN_TEXT_MODEL"),
			ImageModel: os.Getenv("QWEN_IMAGE_MODEL"),
			VideoModel: os.Getenv("QWEN_VIDEO_MODEL"),
		},
		OpenAI: ProviderSettings{
			APIKey:     os.Getenv("OPENAI_API_KEY"),
			BaseURL:    os.Getenv("OPENAI_BASE_URL"),
			TextModel:  os.Getenv("OPENAI_MODEL"),
			ImageModel: os.Getenv("OPENAI_IMAGE_MODEL"),
			AudioModel: os.Getenv("OPENAI_TTS_MODEL"),
		},
		OpenAIOrg: os.Getenv("OPENAI_ORG"),
		ElevenLabs: ProviderSettings{
			APIKey:     os.Getenv("ELEVENLABS_API_KEY"),
			BaseURL:    os.Getenv("ELEVENLABS_BASE_URL"),
			AudioModel: os.Getenv("ELEVENLABS_MODEL_ID"),
		},
		ElevenLabsVoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),
		SyntheticProvider: getEnvBool("SYNTHETIC_PROVIDER", false),

		Chains: make(map[domain.JobKind][]string, len(DefaultChains)),
		Polls:  make(map[string]PollSettings),

		ImageConcurrency: getEnvInt("IMAGE_CONCURRENCY", 4),
		AudioConcurrency: getEnvInt("AUDIO_CONCURRENCY", 3),
		VideoSceneDelay:  time.Second * time.Duration(getEnvInt("VIDEO_SCENE_DELAY_SECONDS", 2)),
		FFmpegPath:       getEnv("FFMPEG_PATH", "ffmpeg"),
	}

	for kind, chain := range DefaultChains {
		cfg.Chains[kind] = getEnvList(strings.ToUpper(string(kind))+"_PROVIDERS", chain)
	}
	for _, provider := range []string{"gemini", "veo", "qwen", "openai", "elevenlabs"} {
		prefix := strings.ToUpper(provider)
		poll := PollSettings{
			Attempts: getEnvInt(prefix+"_POLL_ATTEMPTS", 0),
			Interval: time.Second * time.Duration(getEnvInt(prefix+"_POLL_INTERVAL_SECONDS", 0)),
		}
		if poll.Attempts > 0 || poll.Interval > 0 {
			cfg.Polls[provider] = poll
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageBackend {
	case StorageFS, StorageMemory:
	case StorageGCS:
		if c.GCSBucket == "" {
			return fmt.Errorf("GCS_BUCKET is required for STORAGE_BACKEND=gcs")
		}
	case StorageS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for STORAGE_BACKEND=s3")
		}
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for STORAGE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.ImageConcurrency <= 0 || c.AudioConcurrency <= 0 {
		return fmt.Errorf("IMAGE_CONCURRENCY and AUDIO_CONCURRENCY must be positive")
	}
	return nil
}

// ProviderKeys maps provider names to the keys found in the environment. The
// synthetic provider counts as configured when enabled.
func (c *Config) ProviderKeys() map[string]string {
	keys := map[string]string{
		"gemini":     c.Gemini.APIKey,
		"qwen":       c.Qwen.APIKey,
		"openai":     c.OpenAI.APIKey,
		"elevenlabs": c.ElevenLabs.APIKey,
	}
	if c.SyntheticProvider {
		keys["synthetic"] = "enabled"
	}
	return keys
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvList splits a comma-separated value, lower-cased, dropping blanks.
func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
