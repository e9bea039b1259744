package ring

import (
	"bytes"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	b := New(16)
	src := []byte("hello world12345")[:16]
	if n := b.Write(src); n != 16 {
		t.Fatalf("Write = %d, want 16", n)
	}
	dst := make([]byte, 16)
	if n := b.Read(dst); n != 16 {
		t.Fatalf("Read = %d, want 16", n)
	}
	if !bytes.Equal(dst, src) {
		t.Errorf("Read content = %q, want %q", dst, src)
	}
}

func TestWrapAroundPreservesConcatenation(t *testing.T) {
	const cap = 32
	b := New(cap)
	k := 5

	first := bytes.Repeat([]byte{0xAA}, cap-k)
	if n := b.Write(first); n != len(first) {
		t.Fatalf("first write = %d, want %d", n, len(first))
	}
	drained := make([]byte, cap-k)
	b.Read(drained)

	// buffer is empty again; now write cap-k then k so the second write wraps.
	if n := b.Write(first); n != len(first) {
		t.Fatalf("second write = %d, want %d", n, len(first))
	}
	second := bytes.Repeat([]byte{0xBB}, k)
	if n := b.Write(second); n != k {
		t.Fatalf("third write = %d, want %d", n, k)
	}

	out := make([]byte, cap)
	if n := b.Read(out); n != cap {
		t.Fatalf("final read = %d, want %d", n, cap)
	}
	want := append(append([]byte{}, first...), second...)
	if !bytes.Equal(out, want) {
		t.Errorf("wrapped read = %v, want %v", out, want)
	}
}

func TestReadableWritableInvariant(t *testing.T) {
	b := New(64)
	ops := [][]byte{
		bytes.Repeat([]byte{1}, 10),
		bytes.Repeat([]byte{2}, 40),
		bytes.Repeat([]byte{3}, 20),
	}
	for _, op := range ops {
		b.Write(op)
		if got := b.Readable() + b.Writable(); got != b.Cap() {
			t.Fatalf("readable+writable = %d, want %d", got, b.Cap())
		}
		b.Read(make([]byte, b.Readable()/2))
		if got := b.Readable() + b.Writable(); got != b.Cap() {
			t.Fatalf("readable+writable after read = %d, want %d", got, b.Cap())
		}
	}
}

func TestPeekDoesNotAdvance(t *testing.T) {
	b := New(8)
	b.Write([]byte("abcdefgh"))
	first := make([]byte, 4)
	b.Peek(first)
	second := make([]byte, 4)
	b.Peek(second)
	if !bytes.Equal(first, second) {
		t.Errorf("peek is not idempotent: %q != %q", first, second)
	}
	if b.Readable() != 8 {
		t.Errorf("Peek advanced read position: readable = %d, want 8", b.Readable())
	}
}

func TestDropAdvancesWithoutCopy(t *testing.T) {
	b := New(8)
	b.Write([]byte("abcdefgh"))
	if n := b.Drop(3); n != 3 {
		t.Fatalf("Drop = %d, want 3", n)
	}
	if b.Readable() != 5 {
		t.Errorf("Readable after drop = %d, want 5", b.Readable())
	}
	rest := make([]byte, 5)
	b.Read(rest)
	if string(rest) != "defgh" {
		t.Errorf("remaining content = %q, want %q", rest, "defgh")
	}
}

func TestOverrunClampsToWritable(t *testing.T) {
	b := New(4)
	n := b.Write([]byte("abcdefgh"))
	if n != 4 {
		t.Errorf("Write overrun = %d, want clamp to 4", n)
	}
	if b.Writable() != 0 {
		t.Errorf("Writable after overrun = %d, want 0", b.Writable())
	}
}

func TestEmptyFullDisambiguation(t *testing.T) {
	b := New(4)
	if b.Readable() != 0 || b.Writable() != 4 {
		t.Fatalf("fresh buffer: readable=%d writable=%d, want 0/4", b.Readable(), b.Writable())
	}
	b.Write([]byte("abcd"))
	if b.Readable() != 4 || b.Writable() != 0 {
		t.Fatalf("full buffer: readable=%d writable=%d, want 4/0", b.Readable(), b.Writable())
	}
}
