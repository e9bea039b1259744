// Package handle implements the per-stream sound buffer that bridges
// client-side wire bytes and engine-side canonical samples.
package handle

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"

	"soundd/internal/pcm"
	"soundd/internal/ring"
)

// ErrAborted is returned by Write on a handle whose session has aborted it.
var ErrAborted = errors.New("handle: aborted")

// capacityFrames mirrors the 120-second s32 mono capacity the handle this
// package is grounded on allocates.
const capacityFrames = 44100 * 120

const frameBytes = 4 // one canonical s32 sample

// WriteHandle is the PLAYBACK side: the client writes wire bytes in, the
// engine reads canonical samples out.
type WriteHandle struct {
	mu                 sync.Mutex
	alive              bool
	format             pcm.Format
	buf                *ring.Buffer
	prebufferRemaining uint32 // latches to 0 permanently once satisfied
	logger             *slog.Logger
}

// NewWriteHandle creates a Write Handle for the given wire format with a
// prebuffer gate of prebufferFrames canonical frames.
func NewWriteHandle(format pcm.Format, prebufferFrames uint32, logger *slog.Logger) *WriteHandle {
	if logger == nil {
		logger = slog.Default()
	}
	return &WriteHandle{
		alive:              true,
		format:             format,
		buf:                ring.New(capacityFrames * frameBytes),
		prebufferRemaining: prebufferFrames,
		logger:             logger,
	}
}

// Write converts and stores wire-format frames, clamped to writable space.
// Excess frames are dropped and reported as an overrun via the logger.
func (h *WriteHandle) Write(wireBytes []byte) (framesAccepted int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.alive {
		return 0, ErrAborted
	}

	sampleSize := pcm.SampleBytes(h.format)
	requested := len(wireBytes) / sampleSize
	writable := h.buf.Writable() / frameBytes
	if requested > writable {
		h.logger.Warn("write handle overrun", "dropped_frames", requested-writable)
		requested = writable
	}

	var scratch [frameBytes]byte
	for i := 0; i < requested; i++ {
		wireFrame := wireBytes[i*sampleSize : (i+1)*sampleSize]
		canonical := pcm.ToCanonical(h.format, wireFrame)
		binary.LittleEndian.PutUint32(scratch[:], uint32(canonical))
		h.buf.Write(scratch[:])
	}
	return requested, nil
}

// Read delivers canonical samples to the engine. If the handle has not yet
// accumulated its prebuffer threshold, it returns stalled=true without
// advancing; once the threshold is met once, it never stalls again. Any
// deficit versus len(dest) is filled with Silence.
func (h *WriteHandle) Read(dest []int32) (delivered int, stalled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.alive {
		return 0, false
	}

	readable := h.buf.Readable() / frameBytes
	if h.prebufferRemaining > 0 {
		if uint32(readable) < h.prebufferRemaining {
			return 0, true
		}
		h.prebufferRemaining = 0
	}

	deficit := 0
	if len(dest) > readable {
		deficit = len(dest) - readable
	}
	if deficit > 0 {
		h.logger.Warn("write handle underrun", "deficit_frames", deficit)
	}

	var scratch [frameBytes]byte
	delivered = len(dest) - deficit
	for i := 0; i < delivered; i++ {
		h.buf.Read(scratch[:])
		dest[i] = int32(binary.LittleEndian.Uint32(scratch[:]))
	}
	for i := delivered; i < len(dest); i++ {
		dest[i] = pcm.Silence
	}
	return delivered, false
}

// Flush discards all readable bytes.
func (h *WriteHandle) Flush() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf.Drop(h.buf.Readable())
}

// Drain is a no-op acknowledgement; the ring buffer has no async writer to
// wait on.
func (h *WriteHandle) Drain() {}

// Abort flips alive to false; subsequent operations return ErrAborted (or,
// for Read, simply deliver nothing).
func (h *WriteHandle) Abort() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alive = false
}

// Alive reports whether the handle is still usable.
func (h *WriteHandle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

// Format returns the handle's declared wire format.
func (h *WriteHandle) Format() pcm.Format {
	return h.format
}

// ReadHandle is the RECORD side: the engine writes canonical samples in,
// the client reads wire bytes out. Symmetric with WriteHandle; no
// prebuffer applies.
type ReadHandle struct {
	mu     sync.Mutex
	alive  bool
	format pcm.Format
	buf    *ring.Buffer
	logger *slog.Logger
}

// NewReadHandle creates a Read Handle for the given wire format.
func NewReadHandle(format pcm.Format, logger *slog.Logger) *ReadHandle {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReadHandle{
		alive:  true,
		format: format,
		buf:    ring.New(capacityFrames * frameBytes),
		logger: logger,
	}
}

// Write stores canonical samples produced by the device's capture path.
// Excess beyond writable space is dropped and reported.
func (h *ReadHandle) Write(canonical []int32) (framesAccepted int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.alive {
		return 0, ErrAborted
	}

	writable := h.buf.Writable() / frameBytes
	requested := len(canonical)
	if requested > writable {
		h.logger.Warn("read handle overrun", "dropped_frames", requested-writable)
		requested = writable
	}

	var scratch [frameBytes]byte
	for i := 0; i < requested; i++ {
		binary.LittleEndian.PutUint32(scratch[:], uint32(canonical[i]))
		h.buf.Write(scratch[:])
	}
	return requested, nil
}

// Read delivers wire-format bytes to the client, converting from canonical
// storage. A deficit versus the requested frame count is filled with
// Silence converted to the wire format.
func (h *ReadHandle) Read(nFrames int) (wireBytes []byte, delivered int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sampleSize := pcm.SampleBytes(h.format)
	readable := h.buf.Readable() / frameBytes
	deficit := 0
	if nFrames > readable {
		deficit = nFrames - readable
	}
	if deficit > 0 {
		h.logger.Warn("read handle underrun", "deficit_frames", deficit)
	}

	delivered = nFrames - deficit
	out := make([]byte, 0, nFrames*sampleSize)
	var scratch [frameBytes]byte
	for i := 0; i < delivered; i++ {
		h.buf.Read(scratch[:])
		canonical := int32(binary.LittleEndian.Uint32(scratch[:]))
		out = pcm.FromCanonical(h.format, canonical, out)
	}
	for i := delivered; i < nFrames; i++ {
		out = pcm.FromCanonical(h.format, pcm.Silence, out)
	}
	return out, delivered
}

// Flush discards all readable bytes.
func (h *ReadHandle) Flush() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf.Drop(h.buf.Readable())
}

// Drain is a no-op acknowledgement.
func (h *ReadHandle) Drain() {}

// Abort flips alive to false.
func (h *ReadHandle) Abort() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alive = false
}

// Alive reports whether the handle is still usable.
func (h *ReadHandle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

// Format returns the handle's declared wire format.
func (h *ReadHandle) Format() pcm.Format {
	return h.format
}
