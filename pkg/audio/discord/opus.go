package discord

import (
	"fmt"

	"layeh.com/gopus"
)

// Discord sends 48 kHz Opus in 20 ms packets. Decoding to a single channel
// lets libopus fold the stereo stream down before it reaches the coach.
const (
	discordSampleRate = 48000
	captureChannels   = 1
	packetSamples     = discordSampleRate / 50
)

// decoderSet holds one Opus decoder per SSRC. Opus decoding is stateful
// across packets, so streams must not share a decoder.
type decoderSet struct {
	decoders map[uint32]*gopus.Decoder
}

func newDecoderSet() *decoderSet {
	return &decoderSet{decoders: make(map[uint32]*gopus.Decoder)}
}

// decode turns one Opus packet from ssrc into mono little-endian PCM.
func (s *decoderSet) decode(ssrc uint32, packet []byte) ([]byte, error) {
	dec, ok := s.decoders[ssrc]
	if !ok {
		var err error
		dec, err = gopus.NewDecoder(discordSampleRate, captureChannels)
		if err != nil {
			return nil, fmt.Errorf("discord: create opus decoder: %w", err)
		}
		s.decoders[ssrc] = dec
	}
	samples, err := dec.Decode(packet, packetSamples, false)
	if err != nil {
		return nil, fmt.Errorf("discord: decode ssrc %d: %w", ssrc, err)
	}
	return pcmBytes(samples), nil
}

// forget drops the decoder of a stream that went away.
func (s *decoderSet) forget(ssrc uint32) {
	delete(s.decoders, ssrc)
}

func pcmBytes(samples []int16) []byte {
	b := make([]byte, 2*len(samples))
	for i, v := range samples {
		b[2*i] = byte(v)
		b[2*i+1] = byte(v >> 8)
	}
	return b
}
