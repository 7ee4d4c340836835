package discord

import (
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/pokercoach/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

var _ audio.Capture = (*Capture)(nil)

const framesBuffer = 64

// Capture is an open Discord voice connection delivering decoded PCM for the
// selected speaker.
//
// Capture is safe for concurrent use.
type Capture struct {
	vc     *discordgo.VoiceConnection
	userID string

	// heroSSRC is learned from speaking updates. Zero means not yet known.
	heroSSRC atomic.Uint32

	frames chan audio.AudioFrame

	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	// disconnectVC tears down the voice connection. Defaults to
	// vc.Disconnect; overridden in tests.
	disconnectVC func() error
	onClose      func()
}

func newCapture(vc *discordgo.VoiceConnection, userID string, disconnect func() error) *Capture {
	c := &Capture{
		vc:           vc,
		userID:       userID,
		frames:       make(chan audio.AudioFrame, framesBuffer),
		done:         make(chan struct{}),
		loopDone:     make(chan struct{}),
		disconnectVC: disconnect,
	}
	go c.recvLoop()
	return c
}

// Frames implements [audio.Capture]. Frames are 48 kHz mono.
func (c *Capture) Frames() <-chan audio.AudioFrame { return c.frames }

// Close leaves the voice channel and stops decoding. It is safe to call more
// than once; subsequent calls return nil.
func (c *Capture) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		<-c.loopDone
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
		if c.onClose != nil {
			c.onClose()
		}
	})
	return err
}

// handleSpeaking records the SSRC of the selected user when Discord
// announces that they started speaking.
func (c *Capture) handleSpeaking(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if c.userID == "" || vs == nil || vs.UserID != c.userID {
		return
	}
	c.heroSSRC.Store(uint32(vs.SSRC))
}

// accepts reports whether packets from ssrc belong to the selected speaker.
func (c *Capture) accepts(ssrc uint32) bool {
	if c.userID == "" {
		return true
	}
	hero := c.heroSSRC.Load()
	return hero != 0 && hero == ssrc
}

// recvLoop reads Opus packets from the voice connection, drops those of other
// speakers, decodes the rest to PCM and delivers them on the frame channel.
// The frame channel is closed when the loop exits.
func (c *Capture) recvLoop() {
	defer close(c.loopDone)
	defer close(c.frames)

	decoders := newDecoderSet()
	var lastHero uint32

	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil || !c.accepts(pkt.SSRC) {
				continue
			}
			// A rejoin gives the hero a new SSRC; the old stream is gone.
			if c.userID != "" && lastHero != pkt.SSRC {
				if lastHero != 0 {
					decoders.forget(lastHero)
				}
				lastHero = pkt.SSRC
			}

			pcm, err := decoders.decode(pkt.SSRC, pkt.Opus)
			if err != nil {
				slog.Warn("discord: dropping voice packet", "ssrc", strconv.FormatUint(uint64(pkt.SSRC), 10), "err", err)
				continue
			}

			frame := audio.AudioFrame{
				Data:       pcm,
				SampleRate: discordSampleRate,
				Channels:   captureChannels,
				Timestamp:  time.Duration(pkt.Timestamp) * time.Second / discordSampleRate,
			}

			select {
			case c.frames <- frame:
			case <-c.done:
				return
			default:
				// Recorders are behind; drop rather than stall Discord.
			}
		}
	}
}
