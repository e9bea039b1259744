// Package dispatch implements the two pure transformers that sit between
// per-stream Handles and the Audio Engine's device-format buffers: the tube
// dispatcher (one-to-many broadcast / many-to-one mix) and the bass router
// (FFT band split).
package dispatch

import (
	"math"

	"soundd/internal/pcm"
)

// Layout is the channel arrangement of a multichannel wire buffer.
type Layout int

const (
	Interleaved Layout = iota
	NonInterleaved
)

// channelSlot returns the sample-indexed offset and stride for channel in a
// buffer of the given layout, matching the stride-and-offset pair the
// per-sample channel iterator this package is grounded on computes once
// per buffer rather than redispatching per sample.
func channelSlot(layout Layout, samples, channels, channel int) (offset, stride int) {
	switch layout {
	case Interleaved:
		return channel, channels
	default: // NonInterleaved
		return channel * samples, 1
	}
}

// DispatchOneToMany broadcasts a single canonical channel onto C wire-format
// channels, converting each sample through the codec as it fans out.
func DispatchOneToMany(format pcm.Format, layout Layout, channels int, canonicalIn []int32, out []byte) {
	samples := len(canonicalIn)
	sampleSize := pcm.SampleBytes(format)

	for ch := 0; ch < channels; ch++ {
		offset, stride := channelSlot(layout, samples, channels, ch)
		for p := 0; p < samples; p++ {
			slot := offset + stride*p
			wireFrame := pcm.FromCanonical(format, canonicalIn[p], nil)
			copy(out[slot*sampleSize:], wireFrame)
		}
	}
}

// DispatchManyToOne sums C wire-format channels into a single canonical
// channel using the additive-saturation mix law, folded pairwise left to
// right across channel index order.
func DispatchManyToOne(format pcm.Format, layout Layout, channels int, wireIn []byte, canonicalOut []int32) {
	samples := len(canonicalOut)
	sampleSize := pcm.SampleBytes(format)

	for p := 0; p < samples; p++ {
		var mixed int32
		for ch := 0; ch < channels; ch++ {
			offset, stride := channelSlot(layout, samples, channels, ch)
			slot := offset + stride*p
			wireFrame := wireIn[slot*sampleSize : slot*sampleSize+sampleSize]
			processed := pcm.ToCanonical(format, wireFrame)
			if ch == 0 {
				mixed = processed
			} else {
				mixed = MixPair(mixed, processed)
			}
		}
		canonicalOut[p] = mixed
	}
}

// MixPair combines two canonical samples with the unsigned-additive-
// saturation mix law: the shape preserves silence for silent inputs, peaks
// at saturation for coincident peaks, and is symmetric in its two
// arguments.
func MixPair(a, b int32) int32 {
	scaled := float64(a) / (float64(math.MaxInt32) / 2) * float64(b)
	mixed := 2*(float64(a)+float64(b)) - scaled - float64(math.MaxInt32)
	if mixed > math.MaxInt32 {
		return math.MaxInt32
	}
	if mixed < math.MinInt32 {
		return math.MinInt32
	}
	return int32(mixed)
}

// MixMany folds MixPair left to right across all of samples, matching the
// original dispatcher's pairwise reduction; a commutative n-ary
// generalization is not defined.
func MixMany(samples []int32) int32 {
	if len(samples) == 0 {
		return pcm.Silence
	}
	mixed := samples[0]
	for _, s := range samples[1:] {
		mixed = MixPair(mixed, s)
	}
	return mixed
}
