// Package deepgram provides a Deepgram-backed transcriber using the Deepgram
// streaming WebSocket API. Each chunk is streamed on its own connection and
// the stream is closed immediately, so the final results arrive as soon as
// Deepgram has processed the audio.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MrWong99/pokercoach/pkg/provider/stt"
	"github.com/coder/websocket"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
	readLimit         = 1 << 20
)

var _ stt.Transcriber = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithKeywords boosts the given vocabulary on every request.
func WithKeywords(kw []stt.KeywordBoost) Option {
	return func(p *Provider) {
		p.keywords = kw
	}
}

// WithEndpoint overrides the streaming endpoint. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Transcriber backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
	keywords []stt.KeywordBoost
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Transcriber. It streams chunk to Deepgram, asks
// for the stream to be closed, and collects every final result until the
// server closes the connection.
func (p *Provider) Transcribe(ctx context.Context, chunk stt.Chunk) (stt.Result, error) {
	if len(chunk.PCM) == 0 {
		return stt.Result{}, nil
	}

	wsURL, err := p.buildURL(chunk)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "chunk done")
	conn.SetReadLimit(readLimit)

	if err := conn.Write(ctx, websocket.MessageBinary, chunk.PCM); err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: send audio: %w", err)
	}
	// Ask Deepgram to flush pending audio and close the stream.
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: close stream: %w", err)
	}

	var (
		parts   []string
		confSum float64
	)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stt.Result{}, fmt.Errorf("deepgram: %w", ctxErr)
			}
			return stt.Result{}, fmt.Errorf("deepgram: read: %w", err)
		}

		r, kind := parseDeepgramResponse(msg)
		if kind == msgMetadata {
			// Metadata is the last message after CloseStream.
			break
		}
		if kind != msgFinal || r.Text == "" {
			continue
		}
		parts = append(parts, r.Text)
		confSum += r.Confidence
	}

	if len(parts) == 0 {
		return stt.Result{}, nil
	}
	return stt.Result{
		Text:       strings.Join(parts, " "),
		Confidence: confSum / float64(len(parts)),
	}, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given chunk.
func (p *Provider) buildURL(chunk stt.Chunk) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	sr := chunk.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	ch := chunk.Channels
	if ch <= 0 {
		ch = 1
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("channels", strconv.Itoa(ch))

	for _, kw := range p.keywords {
		// Deepgram keyword format: word:boost (e.g., "raise:2")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- responses ----

type msgKind int

const (
	msgIgnored msgKind = iota
	msgPartial
	msgFinal
	msgMetadata
)

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message.
func parseDeepgramResponse(data []byte) (stt.Result, msgKind) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Result{}, msgIgnored
	}
	switch resp.Type {
	case "Metadata":
		return stt.Result{}, msgMetadata
	case "Results":
	default:
		return stt.Result{}, msgIgnored
	}
	if len(resp.Channel.Alternatives) == 0 {
		return stt.Result{}, msgIgnored
	}

	alt := resp.Channel.Alternatives[0]
	r := stt.Result{Text: strings.TrimSpace(alt.Transcript), Confidence: alt.Confidence}
	if !resp.IsFinal {
		return r, msgPartial
	}
	return r, msgFinal
}
