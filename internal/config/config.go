package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	BackendRemote = "remote"
	BackendOpenAI = "openai"
)

// Config is everything the daemon needs at startup.
type Config struct {
	Server ServerConfig
	Paths  PathsConfig
	Bus    BusConfig
	Audio  AudioConfig
	Intent IntentConfig
	// TTSCache is how many synthesized replies are kept in memory.
	TTSCache int
}

type ServerConfig struct {
	URL            string
	OTC            string
	RequestTimeout time.Duration
	ProfileRefresh time.Duration
	Proxy          string
}

type PathsConfig struct {
	StateFile string
	ClipsDir  string
	Socket    string
	Earcon    string
}

type BusConfig struct {
	URL       string
	Name      string
	Reconnect time.Duration
}

type AudioConfig struct {
	SampleRate int
	OutputRate int
	MaxRecord  time.Duration
	Duck       bool
}

type IntentConfig struct {
	Backend string
	APIKey  string
	Model   string
}

// Load resolves configuration from environment variables and defaults.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	cfg := Config{
		Server: ServerConfig{
			URL:            strings.TrimRight(envOrDefault("KIOSK_SERVER_URL", "http://localhost:5000"), "/"),
			OTC:            strings.TrimSpace(os.Getenv("KIOSK_OTC")),
			RequestTimeout: time.Duration(envOrDefaultInt("KIOSK_REQUEST_TIMEOUT_MS", 30000)) * time.Millisecond,
			ProfileRefresh: time.Duration(envOrDefaultInt("KIOSK_PROFILE_REFRESH_S", 300)) * time.Second,
			Proxy:          strings.TrimSpace(os.Getenv("KIOSK_SOCKS_PROXY")),
		},
		Paths: PathsConfig{
			StateFile: envOrDefault("KIOSK_STATE_FILE", filepath.Join(home, ".local", "state", "kiosk", "session.msgpack")),
			ClipsDir:  envOrDefault("KIOSK_CLIPS_DIR", filepath.Join(home, ".local", "share", "kiosk", "clips")),
			Socket:    envOrDefault("KIOSK_SOCKET", "/tmp/kiosk.sock"),
			Earcon:    strings.TrimSpace(os.Getenv("KIOSK_EARCON")),
		},
		Bus: BusConfig{
			URL:       strings.TrimSpace(os.Getenv("KIOSK_BUS_URL")),
			Name:      envOrDefault("KIOSK_BUS_NAME", "kiosk"),
			Reconnect: 3 * time.Second,
		},
		Audio: AudioConfig{
			SampleRate: envOrDefaultInt("KIOSK_SAMPLE_RATE", 16000),
			OutputRate: envOrDefaultInt("KIOSK_OUTPUT_RATE", 44100),
			MaxRecord:  time.Duration(envOrDefaultInt("KIOSK_MAX_RECORD_S", 30)) * time.Second,
			Duck:       envOrDefaultBool("KIOSK_DUCK", true),
		},
		Intent: IntentConfig{
			Backend: strings.ToLower(envOrDefault("KIOSK_INTENT_BACKEND", BackendRemote)),
			APIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			Model:   strings.TrimSpace(os.Getenv("OPENAI_MODEL")),
		},
		TTSCache: envOrDefaultInt("KIOSK_TTS_CACHE", 32),
	}

	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = 30 * time.Second
	}
	if cfg.Server.ProfileRefresh < 0 {
		cfg.Server.ProfileRefresh = 0
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.OutputRate <= 0 {
		cfg.Audio.OutputRate = 44100
	}
	if cfg.Audio.MaxRecord <= 0 {
		cfg.Audio.MaxRecord = 30 * time.Second
	}
	if cfg.TTSCache <= 0 {
		cfg.TTSCache = 32
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Intent.Backend {
	case BackendRemote:
	case BackendOpenAI:
		if c.Intent.APIKey == "" {
			return errors.New("OPENAI_API_KEY not set")
		}
	default:
		return fmt.Errorf("unknown intent backend %q", c.Intent.Backend)
	}
	if !strings.HasPrefix(c.Server.URL, "http://") && !strings.HasPrefix(c.Server.URL, "https://") {
		return fmt.Errorf("server url %q must be http or https", c.Server.URL)
	}
	return nil
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
