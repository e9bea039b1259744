package dispatch

import (
	"math"
	"testing"

	"soundd/internal/pcm"
)

func TestDispatchOneToManyBroadcastsConstant(t *testing.T) {
	const samples, channels = 8, 3
	in := make([]int32, samples)
	for i := range in {
		in[i] = 123456
	}
	sampleSize := pcm.SampleBytes(pcm.S32LE)
	out := make([]byte, samples*channels*sampleSize)
	DispatchOneToMany(pcm.S32LE, Interleaved, channels, in, out)

	want := pcm.FromCanonical(pcm.S32LE, 123456, nil)
	for p := 0; p < samples; p++ {
		for ch := 0; ch < channels; ch++ {
			slot := p*channels + ch
			got := out[slot*sampleSize : slot*sampleSize+sampleSize]
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("sample %d channel %d = %v, want %v", p, ch, got, want)
				}
			}
		}
	}
}

func TestDispatchOneToManyNonInterleaved(t *testing.T) {
	const samples, channels = 4, 2
	in := make([]int32, samples)
	for i := range in {
		in[i] = 1000
	}
	sampleSize := pcm.SampleBytes(pcm.S16LE)
	out := make([]byte, samples*channels*sampleSize)
	DispatchOneToMany(pcm.S16LE, NonInterleaved, channels, in, out)

	want := pcm.FromCanonical(pcm.S16LE, 1000, nil)
	// channel 1 occupies the second half of the buffer in non-interleaved layout.
	for p := 0; p < samples; p++ {
		slot := samples + p
		got := out[slot*sampleSize : slot*sampleSize+sampleSize]
		if got[0] != want[0] || got[1] != want[1] {
			t.Fatalf("channel 1 sample %d = %v, want %v", p, got, want)
		}
	}
}

func TestMixPairSymmetric(t *testing.T) {
	a, b := int32(123456), int32(-654321)
	if MixPair(a, b) != MixPair(b, a) {
		t.Errorf("MixPair(a,b) != MixPair(b,a)")
	}
}

func TestMixPairIdentityWithSilence(t *testing.T) {
	v := int32(987654)
	got := MixPair(v, pcm.Silence)
	if diff := abs32(got - v); diff > 1 {
		t.Errorf("MixPair(v, Silence) = %d, want ~%d", got, v)
	}
}

func TestMixPairSaturationCoincidence(t *testing.T) {
	const max = math.MaxInt32
	got := MixPair(max, max)
	if got != max {
		t.Errorf("MixPair(max,max) = %d, want %d", got, int32(max))
	}
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
