// Package openai provides a transcriber backed by the OpenAI audio
// transcription API (whisper-1 and the gpt-4o transcribe models).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/pokercoach/pkg/audio"
	"github.com/MrWong99/pokercoach/pkg/provider/stt"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = oai.AudioModelWhisper1

// Ensure Provider implements the stt.Transcriber interface.
var _ stt.Transcriber = (*Provider)(nil)

// Provider implements stt.Transcriber using the OpenAI API.
type Provider struct {
	client   oai.Client
	model    oai.AudioModel
	language string
	prompt   string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL  string
	language string
	prompt   string
	timeout  time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Any
// OpenAI-compatible transcription server works.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithLanguage sets the ISO-639-1 input language hint (e.g., "en").
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithPrompt sets a prompt that biases recognition toward the given
// vocabulary.
func WithPrompt(prompt string) Option {
	return func(c *config) {
		c.prompt = prompt
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI transcription Provider.
// If model is empty, DefaultModel (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
		prompt:   cfg.prompt,
	}, nil
}

// Transcribe implements stt.Transcriber.
func (p *Provider) Transcribe(ctx context.Context, chunk stt.Chunk) (stt.Result, error) {
	if len(chunk.PCM) == 0 {
		return stt.Result{}, nil
	}
	sr, ch := chunk.SampleRate, chunk.Channels
	if sr <= 0 {
		sr = 16000
	}
	if ch <= 0 {
		ch = 1
	}
	wav := audio.EncodeWAV(chunk.PCM, sr, ch)

	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model:          p.model,
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if p.language != "" {
		params.Language = oai.String(p.language)
	}
	if p.prompt != "" {
		params.Prompt = oai.String(p.prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Result{}, fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return stt.Result{Text: strings.TrimSpace(resp.Text)}, nil
}
