package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/pokercoach/internal/app"
	"github.com/MrWong99/pokercoach/internal/config"
	"github.com/MrWong99/pokercoach/internal/observe"
	"github.com/MrWong99/pokercoach/internal/resilience"
	"github.com/MrWong99/pokercoach/internal/voice"
	"github.com/MrWong99/pokercoach/pkg/audio"
	discordmic "github.com/MrWong99/pokercoach/pkg/audio/discord"
	"github.com/MrWong99/pokercoach/pkg/audio/wsmic"
	"github.com/MrWong99/pokercoach/pkg/provider/stt"
	"github.com/MrWong99/pokercoach/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/pokercoach/pkg/provider/stt/openai"
	"github.com/MrWong99/pokercoach/pkg/provider/stt/whisper"
)

// keywordBoost is the Deepgram boost applied to every command word.
const keywordBoost = 2.0

// closerList collects cleanup functions of providers that hold resources
// (discord sessions, native whisper models) so they can be handed to the app.
type closerList struct {
	mu  sync.Mutex
	fns []func() error
}

func (c *closerList) add(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fns = append(c.fns, fn)
}

func (c *closerList) list() []func() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]func() error(nil), c.fns...)
}

// closeAll runs every closer, for startup failures that never reach the app.
func (c *closerList) closeAll() {
	for _, fn := range c.list() {
		if err := fn(); err != nil {
			slog.Warn("provider close error", "err", err)
		}
	}
}

// recognitionPrompt biases prompt-driven transcribers towards the command
// vocabulary.
func recognitionPrompt() string {
	return "Poker commands: " + strings.Join(voice.Vocabulary(), ", ") + "."
}

// registerBuiltinProviders wires all built-in transcriber and microphone
// factories into reg. Providers that hold resources register a cleanup with
// closers.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config, closers *closerList) {
	// ── Transcribers ──────────────────────────────────────────────────────────

	reg.RegisterTranscriber("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		opts := []whisper.Option{whisper.WithPrompt(recognitionPrompt())}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterTranscriber("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = config.OptString(entry.Options, "model_path")
		}
		opts := []whisper.NativeOption{
			whisper.WithNativePrompt(recognitionPrompt()),
			whisper.WithNativeThreads(uint(config.OptInt(entry.Options, "threads"))),
		}
		if entry.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(entry.Language))
		}
		p, err := whisper.NewNative(modelPath, opts...)
		if err != nil {
			return nil, err
		}
		closers.add(p.Close)
		return p, nil
	})

	reg.RegisterTranscriber("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var boosts []stt.KeywordBoost
		for _, word := range voice.Vocabulary() {
			boosts = append(boosts, stt.KeywordBoost{Keyword: word, Boost: keywordBoost})
		}
		opts := []deepgram.Option{deepgram.WithKeywords(boosts)}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, deepgram.WithLanguage(entry.Language))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterTranscriber("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		model := entry.Model
		if model == "" {
			model = "whisper-1"
		}
		opts := []oaistt.Option{oaistt.WithPrompt(recognitionPrompt())}
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if entry.Language != "" {
			opts = append(opts, oaistt.WithLanguage(entry.Language))
		}
		if raw := config.OptString(entry.Options, "timeout"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("openai transcriber: options.timeout: %w", err)
			}
			opts = append(opts, oaistt.WithTimeout(d))
		}
		return oaistt.New(entry.APIKey, model, opts...)
	})

	// ── Microphones ───────────────────────────────────────────────────────────

	reg.RegisterMicrophone("browser", func(entry config.ProviderEntry) (audio.Microphone, error) {
		opts := []wsmic.Option{wsmic.WithOriginPatterns(cfg.Server.AllowedOrigins...)}
		if raw := config.OptString(entry.Options, "connect_timeout"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("browser microphone: options.connect_timeout: %w", err)
			}
			opts = append(opts, wsmic.WithConnectTimeout(d))
		}
		return wsmic.New(opts...), nil
	})

	reg.RegisterMicrophone("discord", func(entry config.ProviderEntry) (audio.Microphone, error) {
		guildID := config.OptString(entry.Options, "guild_id")
		channelID := config.OptString(entry.Options, "channel_id")
		switch {
		case entry.APIKey == "":
			return nil, errors.New("discord microphone: api_key (bot token) is required")
		case guildID == "" || channelID == "":
			return nil, errors.New("discord microphone: options.guild_id and options.channel_id are required")
		}

		session, err := discordgo.New("Bot " + entry.APIKey)
		if err != nil {
			return nil, fmt.Errorf("discord microphone: create session: %w", err)
		}
		session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
		if err := session.Open(); err != nil {
			return nil, fmt.Errorf("discord microphone: open session: %w", err)
		}
		closers.add(session.Close)
		return discordmic.New(session, guildID, channelID, config.OptString(entry.Options, "user_id")), nil
	})

	slog.Debug("registered providers",
		"transcribers", reg.Transcribers(),
		"microphones", reg.Microphones(),
	)
}

// buildProviders instantiates the voice providers named in cfg using the
// registry. Transcribers are chained in the configured order behind circuit
// breakers, the first entry being the primary.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics, closers *closerList) (*app.Providers, error) {
	ps := &app.Providers{}
	if !cfg.Voice.Enabled {
		return ps, nil
	}

	mic, err := reg.CreateMicrophone(cfg.Voice.Microphone)
	if err != nil {
		return nil, fmt.Errorf("create microphone %q: %w", cfg.Voice.Microphone.Name, err)
	}
	ps.Microphone = mic
	slog.Info("provider created", "kind", "microphone", "name", cfg.Voice.Microphone.Name)

	var chain *resilience.TranscriberFallback
	for _, entry := range cfg.Voice.Transcribers {
		t, err := reg.CreateTranscriber(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown transcriber, skipping", "name", entry.Name)
			continue
		} else if err != nil {
			return nil, fmt.Errorf("create transcriber %q: %w", entry.Name, err)
		}
		if chain == nil {
			chain = resilience.NewTranscriberFallback(t, entry.Name, resilience.FallbackConfig{
				CircuitBreaker: resilience.CircuitBreakerConfig{
					OnStateChange: func(name string, from, to resilience.State) {
						slog.Warn("transcriber breaker state changed", "name", name, "from", from, "to", to)
					},
				},
			}, metrics)
		} else {
			chain.AddFallback(entry.Name, t)
		}
		slog.Info("provider created", "kind", "transcriber", "name", entry.Name)
	}
	if chain == nil {
		return nil, errors.New("voice is enabled but no usable transcriber is configured")
	}
	ps.Transcriber = chain
	ps.Closers = closers.list()
	return ps, nil
}
