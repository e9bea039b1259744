// Package engine implements the Audio Engine: device lifecycle, mixing,
// bass routing, format conversion, and the realtime callback. It is the
// concrete session.Engine Stream Sessions acquire Handles from.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"soundd/internal/device"
	"soundd/internal/dispatch"
	"soundd/internal/handle"
	"soundd/internal/pcm"
	"soundd/internal/wire"
)

// ErrDevice is returned for any device enumeration, probing, or stream
// lifecycle failure.
var ErrDevice = errors.New("engine: device error")

// ErrBackpressure is returned when the engine declines to acquire a new
// Handle because its live-handle capacity is exhausted.
var ErrBackpressure = errors.New("engine: backpressure")

const (
	outChannels = 2 // bass band + residual
	inChannels  = 1 // mono capture

	// maxHandles bounds concurrent live Handles so a misbehaving client
	// population cannot grow the per-callback sweep unboundedly.
	maxHandles = 64
)

// Settings controls which device directions the engine opens.
type Settings struct {
	CaptureEnabled  bool
	PlaybackEnabled bool
}

// Engine owns the device stream, the live Handle registries, and the bass
// router's async dispatch state.
type Engine struct {
	mu       sync.Mutex
	settings Settings
	layout   dispatch.Layout
	logger   *slog.Logger

	bassMu sync.Mutex
	bass   dispatch.BassRouter

	writeHandles map[uint32]*handle.WriteHandle
	readHandles  map[uint32]*handle.ReadHandle
	nextHandleID uint32

	stream *device.Stream
	alive  bool

	jobMu      sync.Mutex
	jobPending bool
	jobResult  []byte // two-channel wire bytes from the last completed bass-routing job
}

// New returns an Engine with the default 20-250Hz bass split on channel 1,
// residual on channel 0.
func New(settings Settings, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		settings: settings,
		bass: dispatch.BassRouter{
			Layout:     dispatch.Interleaved,
			Format:     pcm.S32LE,
			SampleRate: wire.BaseSampleRate,
			Range:      dispatch.DefaultBassRange,
			Channels:   dispatch.ChannelInfo{Normal: 0, Bass: 1},
		},
		layout:       dispatch.Interleaved,
		logger:       logger,
		writeHandles: make(map[uint32]*handle.WriteHandle),
		readHandles:  make(map[uint32]*handle.ReadHandle),
		alive:        true,
	}
}

// Open selects devices per the enabled directions and starts the realtime
// stream.
func (e *Engine) Open(framesPerBuffer int) error {
	sel, err := device.Probe(wire.BaseSampleRate, e.settings.CaptureEnabled, e.settings.PlaybackEnabled)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDevice, err)
	}

	var stream *device.Stream
	switch {
	case e.settings.CaptureEnabled && e.settings.PlaybackEnabled:
		stream, err = device.OpenDuplex(sel, wire.BaseSampleRate, framesPerBuffer, inChannels, outChannels, e.callback)
	case e.settings.CaptureEnabled:
		stream, err = device.OpenCapture(sel, wire.BaseSampleRate, framesPerBuffer, inChannels, e.callback)
	case e.settings.PlaybackEnabled:
		stream, err = device.OpenPlayback(sel, wire.BaseSampleRate, framesPerBuffer, outChannels, e.callback)
	default:
		return fmt.Errorf("%w: at least one of capture or playback must be enabled", ErrDevice)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDevice, err)
	}
	if err := stream.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrDevice, err)
	}

	e.mu.Lock()
	e.stream = stream
	e.mu.Unlock()
	e.logger.Info("audio engine started", "capture", e.settings.CaptureEnabled, "playback", e.settings.PlaybackEnabled)
	return nil
}

// Close stops and releases the device stream. Safe to call once at
// shutdown; the realtime callback observes alive==false and stops touching
// handle state.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.alive = false
	stream := e.stream
	e.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.Stop(); err != nil {
		return fmt.Errorf("%w: %v", ErrDevice, err)
	}
	return stream.Close()
}

// UpdateBassRange swaps the bass router's split frequencies, taking effect
// on the next dispatched job. Safe to call concurrently with the realtime
// callback; intended as the config-watcher subscriber's hook into a live
// engine.
func (e *Engine) UpdateBassRange(lower, higher float64) {
	e.bassMu.Lock()
	defer e.bassMu.Unlock()
	e.bass.Range = dispatch.BassRange{Lower: lower, Higher: higher}
}

func (e *Engine) currentBassRouter() dispatch.BassRouter {
	e.bassMu.Lock()
	defer e.bassMu.Unlock()
	return e.bass
}

// AcquireWriteHandle implements session.Engine for PLAYBACK streams.
func (e *Engine) AcquireWriteHandle(cfg wire.StreamConfiguration) (*handle.WriteHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.writeHandles)+len(e.readHandles) >= maxHandles {
		return nil, fmt.Errorf("%w: handle capacity reached", ErrBackpressure)
	}
	h := handle.NewWriteHandle(cfg.Format, cfg.Buffer.Prebuffer, e.logger)
	e.nextHandleID++
	e.writeHandles[e.nextHandleID] = h
	return h, nil
}

// AcquireReadHandle implements session.Engine for RECORD streams.
func (e *Engine) AcquireReadHandle(cfg wire.StreamConfiguration) (*handle.ReadHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.writeHandles)+len(e.readHandles) >= maxHandles {
		return nil, fmt.Errorf("%w: handle capacity reached", ErrBackpressure)
	}
	h := handle.NewReadHandle(cfg.Format, e.logger)
	e.nextHandleID++
	e.readHandles[e.nextHandleID] = h
	return h, nil
}

// callback is the realtime audio thread entry point: no allocation beyond a
// handful of per-call scratch slices, never suspends.
func (e *Engine) callback(out, in []int32) {
	if !e.alive {
		return
	}

	if out != nil {
		frames := len(out) / outChannels
		bus := e.mixPlaybackBus(frames)
		e.writeBassSplit(bus, out)
	}

	if in != nil {
		e.writeCapture(in)
	}
}

// mixPlaybackBus sums every live, non-stalled Write Handle's next `frames`
// canonical samples with the additive-saturation mix law, pruning dead
// handles along the way. A bus with no contributing handle is Silence
// throughout.
func (e *Engine) mixPlaybackBus(frames int) []int32 {
	e.mu.Lock()
	live := make([]*handle.WriteHandle, 0, len(e.writeHandles))
	for id, h := range e.writeHandles {
		if !h.Alive() {
			delete(e.writeHandles, id)
			continue
		}
		live = append(live, h)
	}
	e.mu.Unlock()

	bus := make([]int32, frames)
	for i := range bus {
		bus[i] = pcm.Silence
	}

	scratch := make([]int32, frames)
	any := false
	for _, h := range live {
		delivered, stalled := h.Read(scratch)
		if stalled || delivered == 0 {
			continue
		}
		if !any {
			copy(bus, scratch)
			any = true
			continue
		}
		for i := range bus {
			bus[i] = dispatch.MixPair(bus[i], scratch[i])
		}
	}
	return bus
}

// writeBassSplit writes the result of the last completed bass-routing job
// and dispatches a new job for bus, or — while a job is outstanding or
// before any job has completed — falls back to a mono passthrough of bus
// broadcast to both channels so the device never underruns. The router
// never runs on the audio thread itself.
func (e *Engine) writeBassSplit(bus []int32, out []int32) {
	e.jobMu.Lock()
	pending := e.jobPending
	result := e.jobResult
	e.jobMu.Unlock()

	sampleSize := pcm.SampleBytes(pcm.S32LE)
	wireOut := make([]byte, len(bus)*outChannels*sampleSize)

	switch {
	case pending:
		dispatch.DispatchOneToMany(pcm.S32LE, e.layout, outChannels, bus, wireOut)
	case result != nil:
		copy(wireOut, result)
		e.dispatchBassJob(bus)
	default:
		// Cold start: no job has ever been dispatched. Squash, same as the
		// pending case, and kick off the first job — never run the router
		// synchronously on the audio thread.
		dispatch.DispatchOneToMany(pcm.S32LE, e.layout, outChannels, bus, wireOut)
		e.dispatchBassJob(bus)
	}

	for i := range out {
		frame := wireOut[i*sampleSize : (i+1)*sampleSize]
		out[i] = pcm.ToCanonical(pcm.S32LE, frame)
	}
}

// dispatchBassJob launches the FFT-based bass split for the next callback
// that needs it. Only one job runs at a time; callers while it is
// outstanding use the passthrough fallback in writeBassSplit.
func (e *Engine) dispatchBassJob(bus []int32) {
	e.jobMu.Lock()
	if e.jobPending {
		e.jobMu.Unlock()
		return
	}
	e.jobPending = true
	e.jobMu.Unlock()

	busCopy := append([]int32(nil), bus...)
	router := e.currentBassRouter()
	go func() {
		sampleSize := pcm.SampleBytes(pcm.S32LE)
		wireOut := make([]byte, len(busCopy)*outChannels*sampleSize)
		router.Route(busCopy, wireOut)

		e.jobMu.Lock()
		e.jobResult = wireOut
		e.jobPending = false
		e.jobMu.Unlock()
	}()
}

// writeCapture copies the device's raw, unrouted input frames into every
// live Read Handle. A short write is logged and the handle flushed but kept
// alive, matching the callback this package is grounded on.
func (e *Engine) writeCapture(in []int32) {
	e.mu.Lock()
	live := make([]*handle.ReadHandle, 0, len(e.readHandles))
	for id, h := range e.readHandles {
		if !h.Alive() {
			delete(e.readHandles, id)
			continue
		}
		live = append(live, h)
	}
	e.mu.Unlock()

	for _, h := range live {
		accepted, err := h.Write(in)
		if err != nil || accepted < len(in) {
			e.logger.Warn("capture underflow", "accepted", accepted, "requested", len(in), "error", err)
			h.Flush()
		}
	}
}
