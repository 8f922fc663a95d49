package ofcore

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeFrameRoundTrip(t *testing.T) {
	fr, err := EncodeFrame(4, 2, 0xdeadbeef, []byte("hello"), 0)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if fr.Version() != 4 || fr.Type() != 2 || fr.Xid() != 0xdeadbeef {
		t.Fatalf("unexpected header: version=%d type=%d xid=%x", fr.Version(), fr.Type(), fr.Xid())
	}
	if !bytes.Equal(fr.Body(), []byte("hello")) {
		t.Fatalf("body = %q, want %q", fr.Body(), "hello")
	}
	if int(fr.Length()) != len(fr.Bytes()) {
		t.Fatalf("declared length %d does not match actual %d", fr.Length(), len(fr.Bytes()))
	}
}

func TestEncodeFrameTooLarge(t *testing.T) {
	_, err := EncodeFrame(1, 1, 0, make([]byte, DefaultMaxFrameSize), 0)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestEncodeFrameHonorsConfiguredMaxFrameSize(t *testing.T) {
	_, err := EncodeFrame(1, 1, 0, make([]byte, 16), 16)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err = %v, want ErrFrameTooLarge for a body that overflows a configured 16-byte max", err)
	}
	if _, err := EncodeFrame(1, 1, 0, make([]byte, 8), 16); err != nil {
		t.Fatalf("EncodeFrame at the configured max: %v", err)
	}
}

func TestFrameReaderWholeFrameInOneFeed(t *testing.T) {
	fr, err := EncodeFrame(1, 3, 7, []byte("abc"), 0)
	if err != nil {
		t.Fatal(err)
	}
	r := NewFrameReader(0)
	out, err := r.Feed(fr.Bytes())
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(out) != 1 || out[0].Xid() != 7 {
		t.Fatalf("got %d frames, want 1 matching xid 7", len(out))
	}
}

func TestFrameReaderByteAtATime(t *testing.T) {
	fr, err := EncodeFrame(1, 3, 99, []byte("a longer body than the header"), 0)
	if err != nil {
		t.Fatal(err)
	}
	r := NewFrameReader(0)
	var got []Frame
	for _, b := range fr.Bytes() {
		out, err := r.Feed([]byte{b})
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		got = append(got, out...)
	}
	if len(got) != 1 || got[0].Xid() != 99 {
		t.Fatalf("got %d frames, want 1 matching xid 99", len(got))
	}
	if r.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0 after a complete frame", r.Pending())
	}
}

func TestFrameReaderMultipleFramesInOneFeed(t *testing.T) {
	f1, _ := EncodeFrame(1, 1, 1, []byte("one"), 0)
	f2, _ := EncodeFrame(1, 1, 2, []byte("two"), 0)
	buf := append(append([]byte(nil), f1.Bytes()...), f2.Bytes()...)

	r := NewFrameReader(0)
	out, err := r.Feed(buf)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(out) != 2 || out[0].Xid() != 1 || out[1].Xid() != 2 {
		t.Fatalf("got %v, want frames with xid 1 then 2", out)
	}
}

func TestFrameReaderRejectsDeclaredLengthBelowHeader(t *testing.T) {
	buf := make([]byte, HeaderLen)
	buf[2], buf[3] = 0, 4 // declared length 4 < HeaderLen

	r := NewFrameReader(0)
	_, err := r.Feed(buf)
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("err = %v, want ErrMalformedFrame", err)
	}
}

func TestFrameReaderRejectsOversizeFrame(t *testing.T) {
	r := NewFrameReader(16)
	buf := make([]byte, HeaderLen)
	buf[2], buf[3] = 0, 32 // declared length 32 > max 16
	_, err := r.Feed(buf)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
}
