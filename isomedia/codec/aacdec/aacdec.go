// Package aacdec adapts github.com/skrashevich/go-aac to the
// isomedia.AudioDecoder interface.
package aacdec

import (
	"fmt"

	aacdecoder "github.com/skrashevich/go-aac/pkg/decoder"

	"github.com/brodtkorb/isomedia/isomedia"
)

// Decoder wraps a go-aac decoder configured from an esds
// AudioSpecificConfig, converting its float32 PCM output to
// interleaved 16-bit PCM bytes for isomedia.AudioDecoder.
type Decoder struct {
	asc      []byte
	dec      *aacdecoder.Decoder
	channels int

	outBuf []byte
}

// New constructs a Decoder from the raw AudioSpecificConfig bytes
// extracted from the track's esds box.
func New(asc []byte) (*Decoder, error) {
	d := &Decoder{asc: asc}
	if err := d.open(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Decoder) open() error {
	dec := aacdecoder.New()
	if err := dec.SetASC(d.asc); err != nil {
		return fmt.Errorf("%w: set asc: %w", isomedia.ErrDecodeHard, err)
	}

	channels := dec.Config.ChanConfig
	if channels < 1 {
		channels = 1
	}

	d.dec = dec
	d.channels = channels
	return nil
}

func (d *Decoder) DecodePacket(packet []byte) ([]byte, error) {
	pcm, err := d.dec.DecodeFrame(packet)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", isomedia.ErrDecodeHard, err)
	}

	need := len(pcm) * 2
	if cap(d.outBuf) < need {
		d.outBuf = make([]byte, need)
	}
	out := d.outBuf[:need]
	for i, s := range pcm {
		v := int16(clampUnit(s) * 32767)
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out, nil
}

func (d *Decoder) BytesPerPCMFrame() int { return d.channels * 2 }

// Reopen rebuilds the decoder from the cached AudioSpecificConfig,
// the "flush by reopen" pattern the Audio Read Engine uses at every
// seek instead of relying on a library-specific flush call.
func (d *Decoder) Reopen() error { return d.open() }

func (d *Decoder) Close() error {
	d.dec = nil
	return nil
}

func clampUnit(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
