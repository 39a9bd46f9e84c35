package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestEncodeSampleBoundaries(t *testing.T) {
	cases := []struct {
		in   float32
		want int16
	}{
		{1.0, 32767},
		{-1.0, -32768},
		{0, 0},
		{0.5, 16383},
		{-0.5, -16384},
		{2.0, 32767},
		{-3.0, -32768},
	}
	for _, tc := range cases {
		if got := EncodeSample(tc.in); got != tc.want {
			t.Fatalf("EncodeSample(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
	if got := EncodeSample(float32(math.NaN())); got != 0 {
		t.Fatalf("NaN should encode to 0, got %d", got)
	}
}

func TestEncodePCM16LittleEndian(t *testing.T) {
	out := EncodePCM16([]float32{1, -1, 0})
	if len(out) != 6 {
		t.Fatalf("expected 6 bytes, got %d", len(out))
	}
	if v := int16(binary.LittleEndian.Uint16(out[0:])); v != 32767 {
		t.Fatalf("first sample = %d", v)
	}
	if v := int16(binary.LittleEndian.Uint16(out[2:])); v != -32768 {
		t.Fatalf("second sample = %d", v)
	}
	back := DecodePCM16(out)
	if len(back) != 3 || back[2] != 0 {
		t.Fatalf("unexpected decode %v", back)
	}
}

func TestLevel(t *testing.T) {
	if got := Level(nil); got != 0 {
		t.Fatalf("empty level = %v", got)
	}
	if got := Level([]float32{0.5, -0.5, 0.5, -0.5}); math.Abs(got-0.5) > 1e-6 {
		t.Fatalf("level = %v, want 0.5", got)
	}
}

func TestResample(t *testing.T) {
	in := make([]float32, 4800)
	out := Resample(in, 48000, 16000)
	if len(out) != 1600 {
		t.Fatalf("expected 1600 samples, got %d", len(out))
	}
	same := []float32{0.1, 0.2}
	if got := Resample(same, 16000, 16000); len(got) != 2 || got[1] != 0.2 {
		t.Fatalf("identity resample changed samples: %v", got)
	}
}

func TestArbiterExclusive(t *testing.T) {
	a := NewArbiter()
	first, second := new(int), new(int)
	if err := a.Acquire(first); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := a.Acquire(first); err != nil {
		t.Fatalf("re-acquire by holder: %v", err)
	}
	if err := a.Acquire(second); err != ErrMicrophoneBusy {
		t.Fatalf("expected busy, got %v", err)
	}
	a.Release(second)
	if !a.Held() {
		t.Fatalf("release by non-holder should not free the microphone")
	}
	a.Release(first)
	if err := a.Acquire(second); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}
