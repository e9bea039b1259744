package dispatch

import (
	"math"

	"github.com/mjibson/go-dsp/fft"

	"soundd/internal/pcm"
)

// BassRange is the inclusive frequency band, in Hz, routed to the bass
// channel.
type BassRange struct {
	Lower  float64
	Higher float64
}

// DefaultBassRange matches the daemon's default split.
var DefaultBassRange = BassRange{Lower: 20, Higher: 250}

// ChannelInfo names which output channel index carries the bass band and
// which carries the residual.
type ChannelInfo struct {
	Normal int
	Bass   int
}

// BassRouter FFT-splits a mono canonical window into a bass band and a
// residual band, writing each onto its assigned output channel in the
// device's wire format.
type BassRouter struct {
	Layout     Layout
	Format     pcm.Format
	SampleRate int
	Range      BassRange
	Channels   ChannelInfo
}

// Route splits in (a window of N canonical mono samples) into the bass and
// residual bands and writes a two-channel wire-format buffer to out, sized
// len(in) * channels * sample size.
func (r BassRouter) Route(in []int32, out []byte) {
	n := len(in)
	complexIn := make([]complex128, n)
	for i, v := range in {
		complexIn[i] = complex(float64(v), 0)
	}

	spectrum := fft.FFT(complexIn)

	bass := make([]complex128, n)
	normal := make([]complex128, n)
	resolution := float64(r.SampleRate) / float64(n)

	bassEmpty, normalEmpty := true, true
	for k := 0; k < n/2; k++ {
		freq := float64(k) * resolution
		dst := normal
		if freq >= r.Range.Lower && freq <= r.Range.Higher {
			dst = bass
			bassEmpty = false
		} else {
			normalEmpty = false
		}
		// Each positive-frequency bin takes its mirror bin n-k with it, so
		// the inverse transform of a band is real and carries its full
		// amplitude.
		dst[k] = spectrum[k]
		if k > 0 {
			dst[n-k] = spectrum[n-k]
		}
	}

	normalTime := inverseOrSilence(normal, normalEmpty, n)
	bassTime := inverseOrSilence(bass, bassEmpty, n)

	channels := 2
	samples := n
	writeChannel(r.Format, r.Layout, channels, samples, r.Channels.Normal, normalTime, out)
	writeChannel(r.Format, r.Layout, channels, samples, r.Channels.Bass, bassTime, out)
}

// inverseOrSilence inverse-transforms spectrum (already normalized by
// go-dsp's IFFT) or, if the band carries no energy, returns Silence for
// every sample — matching the pre-scaled Silence*N fill the algorithm this
// router is grounded on applies before its (non-normalizing) inverse
// transform.
func inverseOrSilence(spectrum []complex128, empty bool, n int) []int32 {
	out := make([]int32, n)
	if empty {
		for i := range out {
			out[i] = pcm.Silence
		}
		return out
	}
	timeDomain := fft.IFFT(spectrum)
	for i, c := range timeDomain {
		v := real(c)
		if v > math.MaxInt32 {
			v = math.MaxInt32
		}
		if v < math.MinInt32 {
			v = math.MinInt32
		}
		out[i] = int32(v)
	}
	return out
}

func writeChannel(format pcm.Format, layout Layout, channels, samples, channel int, canonical []int32, out []byte) {
	sampleSize := pcm.SampleBytes(format)
	offset, stride := channelSlot(layout, samples, channels, channel)
	for p := 0; p < samples; p++ {
		slot := offset + stride*p
		wireFrame := pcm.FromCanonical(format, canonical[p], nil)
		copy(out[slot*sampleSize:], wireFrame)
	}
}
