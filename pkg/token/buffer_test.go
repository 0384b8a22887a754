package token

import (
	"bytes"
	"testing"
)

func TestBufferWriteReadRoundTrip(t *testing.T) {
	backing := make([]byte, 32)
	buf := NewBuffer(backing)
	msg := []byte("hello world, this is a test msg")
	if err := buf.WriteBytes(0, msg, len(msg)); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	out := make([]byte, len(msg))
	if err := buf.ReadBytes(0, out, len(msg)); err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(out, msg) {
		t.Fatalf("round trip mismatch: got %q want %q", out, msg)
	}
}

func TestBufferReadWriteOffsetBounds(t *testing.T) {
	buf := NewBuffer(make([]byte, 8))
	if err := buf.WriteBytes(4, []byte{1, 2, 3, 4}, 4); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	if err := buf.WriteBytes(5, []byte{1, 2, 3, 4}, 4); !IsCapacity(err) && StatusOf(err) != StatusBufferTooSmall {
		t.Fatalf("expected buffer-too-small past logical end, got %v", err)
	}
}

func TestBufferNumberRoundTripEndianness(t *testing.T) {
	for _, be := range []bool{true, false} {
		buf := NewBuffer(make([]byte, 4))
		src := []byte{0x01, 0x02, 0x03, 0x04}
		if err := buf.WriteNumber(0, src, 4, be); err != nil {
			t.Fatalf("WriteNumber(be=%v): %v", be, err)
		}
		dst := make([]byte, 4)
		if err := buf.ReadNumber(0, dst, 4, be); err != nil {
			t.Fatalf("ReadNumber(be=%v): %v", be, err)
		}
		if !bytes.Equal(dst, src) {
			t.Fatalf("ReadNumber(WriteNumber(x)) != x for be=%v: got %x want %x", be, dst, src)
		}
	}
}

func TestBufferCopySingleSegmentMatchesWriteBytes(t *testing.T) {
	src := NewBuffer([]byte("abcdefgh"))
	dst1 := NewBuffer(make([]byte, 8))
	dst2 := NewBuffer(make([]byte, 8))

	if err := Copy(dst1, 0, src, 0, 8); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	srcBytes := make([]byte, 8)
	if err := src.ReadBytes(0, srcBytes, 8); err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if err := dst2.WriteBytes(0, srcBytes, 8); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}

	out1 := make([]byte, 8)
	out2 := make([]byte, 8)
	dst1.ReadBytes(0, out1, 8)
	dst2.ReadBytes(0, out2, 8)
	if !bytes.Equal(out1, out2) {
		t.Fatalf("Copy(dst,0,src,0,len) != WriteBytes(dst,0,srcBytes,len): %x vs %x", out1, out2)
	}
}

func TestBufferMultipartBoundaryCrossing(t *testing.T) {
	// Two 4-byte segments; a read/write spanning the boundary must be
	// indistinguishable from reading the equivalent concatenated bytes.
	segA := make([]byte, 4)
	segB := make([]byte, 4)
	buf := NewMultipartBuffer(segA, segB)

	msg := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x11, 0x22}
	if err := buf.WriteBytes(0, msg, len(msg)); err != nil {
		t.Fatalf("WriteBytes across boundary: %v", err)
	}

	out := make([]byte, len(msg))
	if err := buf.ReadBytes(1, out[:6], 6); err != nil {
		t.Fatalf("ReadBytes across boundary: %v", err)
	}
	if !bytes.Equal(out[:6], msg[1:7]) {
		t.Fatalf("boundary-crossing read mismatch: got %x want %x", out[:6], msg[1:7])
	}
}

func TestBufferSetUsedGetUsed(t *testing.T) {
	buf := NewBuffer(make([]byte, 16))
	if got := buf.GetUsed(); got != 16 {
		t.Fatalf("initial GetUsed = %d, want 16", got)
	}
	if err := buf.SetUsed(10); err != nil {
		t.Fatalf("SetUsed: %v", err)
	}
	if got := buf.GetUsed(); got != 10 {
		t.Fatalf("GetUsed after SetUsed(10) = %d, want 10", got)
	}
	if err := buf.SetUsed(17); err == nil {
		t.Fatalf("SetUsed(17) on a 16-byte segment should fail")
	}
}

func TestBufferSetUsedLengthOnly(t *testing.T) {
	buf := NewLengthOnlyBuffer()
	if err := buf.SetUsed(42); err != nil {
		t.Fatalf("SetUsed on length-only buffer: %v", err)
	}
	if got := buf.GetUsed(); got != 42 {
		t.Fatalf("GetUsed = %d, want 42", got)
	}
	if _, err := buf.ReadByte(0); err == nil {
		t.Fatalf("ReadByte on length-only buffer should fail")
	}
}

func TestBufferZeroLengthOperationsNoop(t *testing.T) {
	buf := NewBuffer(make([]byte, 4))
	if err := buf.ReadBytes(0, nil, 0); err != nil {
		t.Fatalf("zero-length ReadBytes should no-op, got %v", err)
	}
	if err := buf.WriteBytes(0, nil, 0); err != nil {
		t.Fatalf("zero-length WriteBytes should no-op, got %v", err)
	}
}
