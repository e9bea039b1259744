package handle

import (
	"testing"

	"soundd/internal/pcm"
)

func TestWriteHandleStallsUntilPrebuffer(t *testing.T) {
	h := NewWriteHandle(pcm.S32LE, 3, nil)

	wireOne := pcm.FromCanonical(pcm.S32LE, 1000, nil)
	h.Write(wireOne)

	dest := make([]int32, 1)
	if _, stalled := h.Read(dest); !stalled {
		t.Fatal("expected stalled before prebuffer threshold is met")
	}

	h.Write(wireOne)
	h.Write(wireOne)
	// now 3 frames buffered, threshold met.
	delivered, stalled := h.Read(dest)
	if stalled || delivered != 1 {
		t.Fatalf("Read after prebuffer = (%d, %v), want (1, false)", delivered, stalled)
	}
}

func TestWriteHandlePrebufferLatchesPermanently(t *testing.T) {
	h := NewWriteHandle(pcm.S32LE, 2, nil)
	wire := pcm.FromCanonical(pcm.S32LE, 500, nil)
	h.Write(wire)
	h.Write(wire)

	dest := make([]int32, 2)
	if _, stalled := h.Read(dest); stalled {
		t.Fatal("expected prebuffer satisfied")
	}

	// buffer is now empty again; a fresh read must NOT re-stall.
	delivered, stalled := h.Read(make([]int32, 1))
	if stalled {
		t.Fatal("prebuffer gate must never re-arm once satisfied")
	}
	if delivered != 0 {
		t.Fatalf("delivered = %d, want 0 (underrun, filled with Silence)", delivered)
	}
}

func TestWriteHandleUnderrunFillsSilence(t *testing.T) {
	h := NewWriteHandle(pcm.S32LE, 0, nil)
	dest := make([]int32, 4)
	delivered, stalled := h.Read(dest)
	if stalled {
		t.Fatal("zero-prebuffer handle should never stall")
	}
	if delivered != 0 {
		t.Fatalf("delivered = %d, want 0", delivered)
	}
	for i, v := range dest {
		if v != pcm.Silence {
			t.Errorf("dest[%d] = %d, want Silence", i, v)
		}
	}
}

func TestWriteHandleOverrunClamps(t *testing.T) {
	h := NewWriteHandle(pcm.S32LE, 0, nil)
	wire := pcm.FromCanonical(pcm.S32LE, 1, nil)
	accepted, err := h.Write(wire)
	if err != nil || accepted != 1 {
		t.Fatalf("Write = (%d, %v), want (1, nil)", accepted, err)
	}

	// A full capacity's worth of frames now overruns by one frame and is
	// clamped to what is still writable.
	full := make([]byte, capacityFrames*frameBytes)
	accepted, err = h.Write(full)
	if err != nil || accepted != capacityFrames-1 {
		t.Fatalf("overrunning Write = (%d, %v), want (%d, nil)", accepted, err, capacityFrames-1)
	}
}

func TestAbortMakesWriteFail(t *testing.T) {
	h := NewWriteHandle(pcm.S32LE, 0, nil)
	h.Abort()
	if h.Alive() {
		t.Fatal("expected Alive() == false after Abort")
	}
	wire := pcm.FromCanonical(pcm.S32LE, 1, nil)
	if _, err := h.Write(wire); err != ErrAborted {
		t.Fatalf("Write after abort = %v, want ErrAborted", err)
	}
}

func TestReadHandleRoundTrip(t *testing.T) {
	h := NewReadHandle(pcm.S16LE, nil)
	samples := []int32{100, -100, 0, pcm.Silence}
	if _, err := h.Write(samples); err != nil {
		t.Fatalf("Write: %v", err)
	}
	wire, delivered := h.Read(4)
	if delivered != 4 {
		t.Fatalf("delivered = %d, want 4", delivered)
	}
	if len(wire) != 4*pcm.SampleBytes(pcm.S16LE) {
		t.Fatalf("wire length = %d, want %d", len(wire), 4*pcm.SampleBytes(pcm.S16LE))
	}
}

func TestFlushDropsReadable(t *testing.T) {
	h := NewWriteHandle(pcm.S32LE, 0, nil)
	wire := pcm.FromCanonical(pcm.S32LE, 1, nil)
	h.Write(wire)
	h.Flush()
	delivered, _ := h.Read(make([]int32, 1))
	if delivered != 0 {
		t.Fatalf("delivered after flush = %d, want 0", delivered)
	}
}
