package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	ModelGPT4oRealtimePreview = "gpt-4o-realtime-preview-2024-10-01"

	AudioFormatG711ULaw = "g711_ulaw"
	VoiceAsh            = "ash"
	VADServerVAD        = "server_vad"
	ModalityText        = "text"
	ModalityAudio       = "audio"
	ToolChoiceAuto      = "auto"
)

type Config struct {
	APIKey                string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	URL                   string        `envconfig:"URL" split_words:"true" default:"wss://api.openai.com/v1/realtime"`
	Model                 string        `envconfig:"MODEL" split_words:"true" default:"gpt-4o-realtime-preview-2024-10-01"`
	Voice                 string        `envconfig:"VOICE" split_words:"true" default:"ash"`
	Temperature           float64       `envconfig:"TEMPERATURE" split_words:"true" default:"0.6"`
	TranscriptionModel    string        `envconfig:"TRANSCRIPTION_MODEL" split_words:"true" default:"whisper-1"`
	TranscriptionLanguage string        `envconfig:"TRANSCRIPTION_LANGUAGE" split_words:"true" default:"en"`
	HandshakeTimeout      time.Duration `envconfig:"HANDSHAKE_TIMEOUT" split_words:"true" default:"10s"`
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("realtime api key is required")
	}
	if _, err := url.Parse(c.URL); err != nil {
		return fmt.Errorf("invalid realtime url: %w", err)
	}
	return nil
}

// Client opens websocket sessions against the OpenAI Realtime API.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("realtime api key is required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = "wss://api.openai.com/v1/realtime"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = ModelGPT4oRealtimePreview
	}
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: timeout, Proxy: http.ProxyFromEnvironment},
	}, nil
}

func (c *Client) Config() Config {
	return c.cfg
}

// Connect dials a new session. The caller owns the returned session.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("realtime: parse url: %w", err)
	}
	q := u.Query()
	q.Set("model", c.cfg.Model)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+strings.TrimSpace(c.cfg.APIKey))
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime: connect status=%d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime: connect: %w", err)
	}
	return NewSession(conn), nil
}
