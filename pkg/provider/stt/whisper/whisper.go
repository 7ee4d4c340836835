// Package whisper provides whisper.cpp-backed transcribers.
//
// [Provider] talks to a running whisper-server binary, which exposes a REST
// API at POST /inference. Each chunk is wrapped as a WAV file and submitted
// as one batch inference request. [NativeProvider] runs the same model
// in-process through the CGO bindings.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	    whisper.WithPrompt("fold, check, call, raise, all-in"),
//	)
//	res, err := p.Transcribe(ctx, chunk)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/pokercoach/pkg/audio"
	"github.com/MrWong99/pokercoach/pkg/provider/stt"
)

const (
	defaultLanguage   = "en"
	defaultSampleRate = 16000
	defaultTimeout    = 30 * time.Second
)

// Compile-time assertion that Provider implements stt.Transcriber.
var _ stt.Transcriber = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with; this is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code sent to the whisper.cpp server
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithPrompt sets an initial prompt that biases decoding toward the given
// vocabulary.
func WithPrompt(prompt string) Option {
	return func(p *Provider) {
		p.prompt = prompt
	}
}

// WithHTTPClient replaces the default HTTP client (30 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Transcriber backed by a local whisper.cpp HTTP
// server. It is safe for concurrent use.
type Provider struct {
	serverURL  string
	model      string
	language   string
	prompt     string
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
// Functional options may be provided to override defaults.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Transcriber. Empty chunks are answered locally
// with an empty result.
func (p *Provider) Transcribe(ctx context.Context, chunk stt.Chunk) (stt.Result, error) {
	if len(chunk.PCM) == 0 {
		return stt.Result{}, nil
	}
	sr, ch := chunk.SampleRate, chunk.Channels
	if sr <= 0 {
		sr = defaultSampleRate
	}
	if ch <= 0 {
		ch = 1
	}
	text, err := p.infer(ctx, audio.EncodeWAV(chunk.PCM, sr, ch))
	if err != nil {
		return stt.Result{}, err
	}
	return stt.Result{Text: cleanText(text)}, nil
}

// infer POSTs wav to the whisper.cpp /inference endpoint as
// multipart/form-data. It returns the transcribed text or an error.
func (p *Provider) infer(ctx context.Context, wav []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	// Primary audio field.
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}

	// Optional hint fields.
	fields := []struct{ name, value string }{
		{"language", p.language},
		{"model", p.model},
		{"prompt", p.prompt},
		{"response_format", "json"},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := mw.WriteField(f.name, f.value); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", f.name, err)
		}
	}

	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := p.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return result.Text, nil
}

// cleanText trims whisper's non-speech markers such as "[BLANK_AUDIO]" and
// surrounding whitespace.
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	for _, marker := range []string{"[BLANK_AUDIO]", "[SILENCE]", "(silence)", "[ Silence ]"} {
		s = strings.ReplaceAll(s, marker, "")
	}
	return strings.TrimSpace(s)
}
