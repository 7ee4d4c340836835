// Package discord provides an [audio.Microphone] backed by a Discord voice
// channel via the bwmarrin/discordgo library. The coach joins the channel
// muted, listens to the hero's voice stream, and decodes Discord's Opus
// packets into PCM [audio.AudioFrame] values.
//
// The microphone requires an active *discordgo.Session (owned by the caller)
// plus the guild and channel to join. When a user ID is set, only audio from
// that user is delivered; other speakers in the channel are ignored.
package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/pokercoach/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

var _ audio.Microphone = (*Microphone)(nil)

// Microphone implements [audio.Microphone] using a discordgo voice
// connection. Only one capture can be open at a time.
//
// Microphone is safe for concurrent use.
type Microphone struct {
	session   *discordgo.Session
	guildID   string
	channelID string
	userID    string

	mu      sync.Mutex
	current *Capture
}

// New creates a Discord microphone for the given session and voice channel.
// userID selects the speaker to listen to; an empty userID delivers every
// speaker in the channel.
func New(session *discordgo.Session, guildID, channelID, userID string) *Microphone {
	return &Microphone{
		session:   session,
		guildID:   guildID,
		channelID: channelID,
		userID:    userID,
	}
}

// Open joins the voice channel and starts decoding. The supplied ctx governs
// the join phase only; the capture lives until [Capture.Close] is called.
func (m *Microphone) Open(ctx context.Context) (audio.Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return nil, fmt.Errorf("discord: capture already open: %w", audio.ErrUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.checkPermissions(); err != nil {
		return nil, err
	}

	// mute=true (the coach never speaks), deaf=false (we receive audio).
	vc, err := m.session.ChannelVoiceJoin(m.guildID, m.channelID, true, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", m.channelID, errors.Join(audio.ErrUnavailable, err))
	}

	c := newCapture(vc, m.userID, vc.Disconnect)
	c.onClose = func() { m.release(c) }
	vc.AddHandler(c.handleSpeaking)
	m.current = c
	return c, nil
}

// checkPermissions reports [audio.ErrPermissionDenied] when the bot's cached
// permissions forbid connecting to the channel. An empty state cache skips
// the check and leaves the decision to Discord.
func (m *Microphone) checkPermissions() error {
	st := m.session.State
	if st == nil || st.User == nil {
		return nil
	}
	perms, err := st.UserChannelPermissions(st.User.ID, m.channelID)
	if err != nil {
		return nil
	}
	if perms&discordgo.PermissionVoiceConnect == 0 {
		return fmt.Errorf("discord: no connect permission for channel %q: %w", m.channelID, audio.ErrPermissionDenied)
	}
	return nil
}

func (m *Microphone) release(c *Capture) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == c {
		m.current = nil
	}
}
