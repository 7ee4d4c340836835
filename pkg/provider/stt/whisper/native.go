// The native transcriber links whisper.cpp through cgo. libwhisper.a and
// whisper.h must be reachable through LIBRARY_PATH and C_INCLUDE_PATH when
// building.

package whisper

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MrWong99/pokercoach/pkg/audio"
	"github.com/MrWong99/pokercoach/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

var _ stt.Transcriber = (*NativeProvider)(nil)

// NativeProvider transcribes in-process with a whisper.cpp model loaded
// once. The model is shared and every chunk gets its own inference context,
// so both lanes may transcribe at the same time.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	prompt   string
	threads  uint
	target   audio.FormatConverter
}

// NativeOption configures a [NativeProvider].
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the spoken language. Default "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativePrompt biases decoding towards the command vocabulary, like
// [WithPrompt] does for the server.
func WithNativePrompt(prompt string) NativeOption {
	return func(p *NativeProvider) { p.prompt = prompt }
}

// WithNativeThreads caps the CPU threads per inference. Zero keeps the
// whisper.cpp default.
func WithNativeThreads(n uint) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// NewNative loads the model at modelPath. Close releases it.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model path is required")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %s: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
		target:   audio.FormatConverter{Target: audio.Format{SampleRate: defaultSampleRate, Channels: 1}},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the model.
func (p *NativeProvider) Close() error {
	if p.model == nil {
		return nil
	}
	return p.model.Close()
}

// Transcribe converts chunk to 16 kHz mono and runs inference on it.
func (p *NativeProvider) Transcribe(ctx context.Context, chunk stt.Chunk) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, err
	}
	samples := p.samples(chunk)
	if len(samples) == 0 {
		return stt.Result{}, nil
	}

	text, err := p.infer(samples)
	if err != nil {
		return stt.Result{}, err
	}
	return stt.Result{Text: cleanText(text)}, nil
}

func (p *NativeProvider) samples(chunk stt.Chunk) []float32 {
	if len(chunk.PCM) == 0 {
		return nil
	}
	frame := audio.AudioFrame{Data: chunk.PCM, SampleRate: chunk.SampleRate, Channels: chunk.Channels}
	if frame.SampleRate <= 0 {
		frame.SampleRate = defaultSampleRate
	}
	if frame.Channels <= 0 {
		frame.Channels = 1
	}
	return normalise(p.target.Convert(frame).Data)
}

func (p *NativeProvider) infer(samples []float32) (string, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: new context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: language rejected, keeping model default", "language", p.language, "err", err)
	}
	if p.prompt != "" {
		wctx.SetInitialPrompt(p.prompt)
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: inference: %w", err)
	}

	var b strings.Builder
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", fmt.Errorf("whisper: segment: %w", err)
		}
		if t := strings.TrimSpace(seg.Text); t != "" {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(t)
		}
	}
}

// normalise maps 16-bit little-endian PCM onto the [-1, 1) float range
// whisper.cpp consumes.
func normalise(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32768
	}
	return out
}
