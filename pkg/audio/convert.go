package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// FormatConverter brings captured frames into the mono format transcribers
// expect. Multi-channel input is downmixed before resampling so only one
// channel is interpolated. Create one per stream.
type FormatConverter struct {
	Target Format

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts frame to c.Target. Frames whose PCM is not whole samples,
// and frames that would need upmixing, come back with nil Data.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	src := Format{SampleRate: frame.SampleRate, Channels: max(frame.Channels, 1)}
	out := AudioFrame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}

	if len(frame.Data)%(2*src.Channels) != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio: partial sample in PCM frame, dropping",
				"bytes", len(frame.Data), "format", src.String())
		})
		return out
	}
	if src == c.Target {
		return frame
	}
	if src.Channels < c.Target.Channels {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio: cannot upmix capture", "from", src.String(), "to", c.Target.String())
		})
		return out
	}

	c.warnedMismatch.Do(func() {
		slog.Debug("audio: converting capture", "from", src.String(), "to", c.Target.String())
	})

	pcm := frame.Data
	if src.Channels > 1 {
		pcm = Downmix(pcm, src.Channels)
	}
	out.Data = ResampleMono16(pcm, src.SampleRate, c.Target.SampleRate)
	return out
}

// Downmix averages every interleaved frame of channels 16-bit samples into a
// single mono sample.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	stride := 2 * channels
	frames := len(pcm) / stride
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			off := i*stride + ch*2
			sum += int32(int16(pcm[off]) | int16(pcm[off+1])<<8)
		}
		avg := int16(sum / int32(channels))
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. Invalid or equal rates return pcm unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	sample := func(i int) float64 {
		if i >= srcSamples {
			i = srcSamples - 1
		}
		return float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		v := int16(sample(idx)*(1-frac) + sample(idx+1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
