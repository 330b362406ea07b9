// Package opusdec adapts github.com/lostromb/concentus/go (a pure-Go
// Opus decoder, SILK + CELT) to the isomedia.AudioDecoder interface.
package opusdec

import (
	"fmt"

	concentus "github.com/lostromb/concentus/go/opus"

	"github.com/brodtkorb/isomedia/isomedia"
)

// maxFrameSamples is the largest Opus frame at 48kHz: 120ms.
const maxFrameSamples = 5760

// Decoder wraps a concentus Opus decoder, converting its int16 PCM
// output to interleaved bytes for isomedia.AudioDecoder.
type Decoder struct {
	sampleRate int
	channels   int

	dec   *concentus.OpusDecoder
	pcm16 []int16

	outBuf []byte
}

// New constructs a Decoder for the given sample rate and channel
// count. A sampleRate that concentus does not accept
// (8000/12000/16000/24000/48000 are accepted) is replaced by 48000.
func New(sampleRate, channels int) (*Decoder, error) {
	d := &Decoder{
		sampleRate: normalizeRate(sampleRate),
		channels:   channels,
	}
	if err := d.open(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Decoder) open() error {
	dec, err := concentus.NewOpusDecoder(d.sampleRate, d.channels)
	if err != nil {
		return fmt.Errorf("%w: %w", isomedia.ErrDecodeHard, err)
	}
	d.dec = dec
	if d.pcm16 == nil {
		d.pcm16 = make([]int16, maxFrameSamples*d.channels)
	}
	return nil
}

func (d *Decoder) DecodePacket(packet []byte) ([]byte, error) {
	n, err := d.dec.Decode(packet, 0, len(packet), d.pcm16, 0, maxFrameSamples, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", isomedia.ErrDecodeHard, err)
	}

	need := n * d.channels * 2
	if cap(d.outBuf) < need {
		d.outBuf = make([]byte, need)
	}
	out := d.outBuf[:need]
	for i := 0; i < n*d.channels; i++ {
		v := d.pcm16[i]
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out, nil
}

func (d *Decoder) BytesPerPCMFrame() int { return d.channels * 2 }

// Reopen rebuilds the decoder, concentus's stand-in for a library
// flush call: a fresh decoder has no residual SILK/CELT state.
func (d *Decoder) Reopen() error { return d.open() }

func (d *Decoder) Close() error {
	d.dec = nil
	return nil
}

func normalizeRate(rate int) int {
	switch rate {
	case 8000, 12000, 16000, 24000, 48000:
		return rate
	default:
		return 48000
	}
}
