// Package config gathers the daemon settings from flags, an env file and the
// environment.
package config

import (
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"
)

const githubModelsURL = "https://models.github.ai/inference"

type Config struct {
	EnvFile  string
	LogLevel string
	Proxy    string
	Socket   string
	Bus      string

	// camera
	Width        int
	Height       int
	FPS          int
	Devices      int
	CascadePath  string
	Preview      bool
	PhotoDir     string
	VisionEvery  time.Duration
	NarrateEvery time.Duration

	// model
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	History   int
	MaxInput  int

	// voice
	WhisperModel string
	Language     string
	Voice        string
	BeepPath     string
	Continuous   bool
	Duck         bool
}

func Default() Config {
	return Config{
		EnvFile:      ".env",
		LogLevel:     "info",
		Socket:       "/tmp/iris.sock",
		Width:        640,
		Height:       480,
		FPS:          30,
		Devices:      5,
		CascadePath:  "models/haarcascade_frontalface_default.xml",
		PhotoDir:     ".",
		VisionEvery:  3 * time.Second,
		NarrateEvery: 6 * time.Second,
		Model:        "gpt-4o",
		MaxTokens:    150,
		History:      20,
		MaxInput:     1000,
		WhisperModel: "third_party/whisper.cpp/models/ggml-base.en.bin",
		Language:     "en",
		Voice:        "en",
		BeepPath:     "beep.mp3",
	}
}

func (c *Config) RegisterFlags(fs *cli.FlagSet) {
	fs.StringVarP(&c.EnvFile, "env", "e", c.EnvFile, "Env file path")
	fs.StringVarP(&c.LogLevel, "log", "l", c.LogLevel, "Log level")
	fs.StringVarP(&c.Proxy, "proxy", "p", c.Proxy, "Socks proxy address, empty for direct")
	fs.StringVar(&c.Socket, "socket", c.Socket, "Control socket path")
	fs.StringVarP(&c.Bus, "bus", "u", c.Bus, "Url of hub, empty to disable")

	fs.IntVar(&c.Width, "width", c.Width, "Requested frame width")
	fs.IntVar(&c.Height, "height", c.Height, "Requested frame height")
	fs.IntVar(&c.FPS, "fps", c.FPS, "Requested frame rate")
	fs.IntVar(&c.Devices, "devices", c.Devices, "Camera indices to probe")
	fs.StringVar(&c.CascadePath, "cascade", c.CascadePath, "Haar cascade for face regions, empty to disable")
	fs.BoolVar(&c.Preview, "preview", c.Preview, "Show a preview window")
	fs.StringVar(&c.PhotoDir, "photos", c.PhotoDir, "Directory for photos")
	fs.DurationVar(&c.VisionEvery, "vision-interval", c.VisionEvery, "Minimum time between vision calls")
	fs.DurationVar(&c.NarrateEvery, "narration-interval", c.NarrateEvery, "Minimum time between repeated narrations")

	fs.StringVarP(&c.Model, "model", "m", c.Model, "Chat and vision model")
	fs.IntVar(&c.MaxTokens, "max-tokens", c.MaxTokens, "Reply token limit")
	fs.IntVar(&c.History, "history", c.History, "Conversation messages kept")
	fs.IntVar(&c.MaxInput, "max-input", c.MaxInput, "Longest accepted command")

	fs.StringVarP(&c.WhisperModel, "whisper", "w", c.WhisperModel, "Whisper model path")
	fs.StringVar(&c.Language, "language", c.Language, "Transcription language")
	fs.StringVar(&c.Voice, "voice", c.Voice, "espeak-ng voice")
	fs.StringVar(&c.BeepPath, "beep", c.BeepPath, "Listening cue mp3, empty to disable")
	fs.BoolVarP(&c.Continuous, "continuous", "c", c.Continuous, "Listen continuously instead of waiting for triggers")
	fs.BoolVar(&c.Duck, "duck", c.Duck, "Lower other audio while speaking")
}

// LoadEnv reads the env file, if any, and fills the credentials. A GitHub
// token takes precedence and switches to the GitHub models endpoint.
func (c *Config) LoadEnv() {
	if err := godotenv.Load(c.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to load env file", "path", c.EnvFile, "err", err)
	}

	if token := strings.TrimSpace(os.Getenv("GITHUB_TOKEN")); len(token) > 10 {
		c.APIKey = token
		c.BaseURL = githubModelsURL
		if !strings.Contains(c.Model, "/") {
			c.Model = "openai/" + c.Model
		}
		return
	}

	c.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

// Validate rejects unusable settings and warns about questionable ones.
func (c *Config) Validate() error {
	var errs []error

	if c.APIKey == "" {
		errs = append(errs, errors.New("neither GITHUB_TOKEN nor OPENAI_API_KEY is set"))
	}
	if c.Width <= 0 || c.Height <= 0 {
		errs = append(errs, fmt.Errorf("invalid resolution %dx%d", c.Width, c.Height))
	}
	if c.FPS <= 0 {
		errs = append(errs, fmt.Errorf("invalid frame rate %d", c.FPS))
	}
	if c.Devices < 1 {
		errs = append(errs, fmt.Errorf("invalid device count %d", c.Devices))
	}
	if c.VisionEvery <= 0 || c.NarrateEvery <= 0 {
		errs = append(errs, errors.New("intervals must be positive"))
	}
	if c.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("invalid max tokens %d", c.MaxTokens))
	}
	if c.History < 2 {
		errs = append(errs, fmt.Errorf("history must keep at least 2 messages, got %d", c.History))
	}
	if c.MaxInput <= 0 {
		errs = append(errs, fmt.Errorf("invalid max input %d", c.MaxInput))
	}
	if _, ok := LogLevels[c.LogLevel]; !ok {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}

	if c.VisionEvery < time.Second {
		log.Warn("Vision interval below one second will be expensive", "interval", c.VisionEvery)
	}
	if c.MaxTokens > 4000 {
		log.Warn("Max tokens is very high", "max_tokens", c.MaxTokens)
	}
	if c.History > 100 {
		log.Warn("Long conversation history slows every request", "history", c.History)
	}

	return errors.Join(errs...)
}

var LogLevels = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}
