// Package device binds the Audio Engine's device-selection contract to a
// concrete backend: PortAudio. Selection follows the probing algorithm this
// package is grounded on — prefer a device whose name matches the
// configured substring, otherwise fall back to the backend's own default —
// independently for input and output.
package device

import (
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"
)

// PreferredNameSubstring is matched case-insensitively against a device's
// name; a match wins over the backend's own default-input/default-output
// pick, mirroring the "pulseaudio is preferred" probe this package is
// grounded on.
const PreferredNameSubstring = "pulse"

// Selection names the input and output devices chosen for an engine Open.
type Selection struct {
	Input  *portaudio.DeviceInfo
	Output *portaudio.DeviceInfo
}

// Probe enumerates backend devices and selects one per enabled direction.
// The Go PortAudio binding exposes only DefaultSampleRate per device (unlike
// RtAudio's enumerated sampleRates list the original probe walks), so the
// base-rate check here is an equality test against that single value rather
// than a membership test against a list.
func Probe(baseSampleRate float64, captureEnabled, playbackEnabled bool) (Selection, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return Selection{}, fmt.Errorf("device: enumerate: %w", err)
	}

	var sel Selection
	if captureEnabled {
		d, err := probeOne(devices, baseSampleRate, true)
		if err != nil {
			return Selection{}, fmt.Errorf("device: probe input: %w", err)
		}
		sel.Input = d
	}
	if playbackEnabled {
		d, err := probeOne(devices, baseSampleRate, false)
		if err != nil {
			return Selection{}, fmt.Errorf("device: probe output: %w", err)
		}
		sel.Output = d
	}
	return sel, nil
}

func probeOne(devices []*portaudio.DeviceInfo, baseSampleRate float64, isInput bool) (*portaudio.DeviceInfo, error) {
	for _, d := range devices {
		if !hasChannelsForDirection(d, isInput) {
			continue
		}
		if d.DefaultSampleRate != baseSampleRate {
			continue
		}
		if strings.Contains(strings.ToLower(d.Name), PreferredNameSubstring) {
			return d, nil
		}
	}

	if isInput {
		return portaudio.DefaultInputDevice()
	}
	return portaudio.DefaultOutputDevice()
}

func hasChannelsForDirection(d *portaudio.DeviceInfo, isInput bool) bool {
	if isInput {
		return d.MaxInputChannels > 0
	}
	return d.MaxOutputChannels > 0
}

// Callback is the realtime audio thread entry point: out and in are
// interleaved int32 frame buffers sized frames*channels (in is nil when
// capture is not open; out is nil when playback is not open).
type Callback func(out, in []int32)

// Stream wraps an opened PortAudio stream with the lifecycle the Audio
// Engine drives it through.
type Stream struct {
	s *portaudio.Stream
}

// OpenDuplex opens a single stream carrying both capture and playback,
// matching the original's RTAUDIO duplex-callback mode.
func OpenDuplex(sel Selection, sampleRate float64, framesPerBuffer, inChannels, outChannels int, cb Callback) (*Stream, error) {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   sel.Input,
			Channels: inChannels,
			Latency:  sel.Input.DefaultLowInputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Device:   sel.Output,
			Channels: outChannels,
			Latency:  sel.Output.DefaultLowOutputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: framesPerBuffer,
	}
	s, err := portaudio.OpenStream(params, func(in, out []int32) {
		cb(out, in)
	})
	if err != nil {
		return nil, fmt.Errorf("device: open duplex stream: %w", err)
	}
	return &Stream{s: s}, nil
}

// OpenPlayback opens an output-only stream.
func OpenPlayback(sel Selection, sampleRate float64, framesPerBuffer, outChannels int, cb Callback) (*Stream, error) {
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   sel.Output,
			Channels: outChannels,
			Latency:  sel.Output.DefaultLowOutputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: framesPerBuffer,
	}
	s, err := portaudio.OpenStream(params, func(out []int32) {
		cb(out, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("device: open playback stream: %w", err)
	}
	return &Stream{s: s}, nil
}

// OpenCapture opens an input-only stream.
func OpenCapture(sel Selection, sampleRate float64, framesPerBuffer, inChannels int, cb Callback) (*Stream, error) {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   sel.Input,
			Channels: inChannels,
			Latency:  sel.Input.DefaultLowInputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: framesPerBuffer,
	}
	s, err := portaudio.OpenStream(params, func(in []int32) {
		cb(nil, in)
	})
	if err != nil {
		return nil, fmt.Errorf("device: open capture stream: %w", err)
	}
	return &Stream{s: s}, nil
}

func (s *Stream) Start() error { return s.s.Start() }
func (s *Stream) Stop() error  { return s.s.Stop() }
func (s *Stream) Close() error { return s.s.Close() }
