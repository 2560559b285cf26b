package sstv

import (
	"errors"
	"math"
	"testing"

	"github.com/go-test/deep"
)

func TestPrepareErrors(t *testing.T) {
	m := mustLookup(t, "M1")
	if _, err := Prepare(m, nil); !errors.Is(err, ErrMissingInput) {
		t.Errorf("nil buffer: got %v want ErrMissingInput", err)
	}
	short := make([]byte, m.FrameBytes()-1)
	if _, err := Prepare(m, short); !errors.Is(err, ErrBufferSizeMismatch) {
		t.Errorf("short buffer: got %v want ErrBufferSizeMismatch", err)
	}
	if _, err := Encode(m, short); !errors.Is(err, ErrBufferSizeMismatch) {
		t.Errorf("Encode short buffer: got %v want ErrBufferSizeMismatch", err)
	}
}

func TestPrepareChannelOrder(t *testing.T) {
	const r, g, b = 10, 20, 30
	tests := []struct {
		code string
		want []float64
	}{
		{"M1", []float64{DirectFrequency(g), DirectFrequency(b), DirectFrequency(r)}},
		{"S1", []float64{DirectFrequency(g), DirectFrequency(b), DirectFrequency(r)}},
		{"WrasseSC2180", []float64{DirectFrequency(r), DirectFrequency(g), DirectFrequency(b)}},
	}
	for _, test := range tests {
		t.Run(test.code, func(t *testing.T) {
			m := mustLookup(t, test.code)
			img, err := Prepare(m, solidFrame(m, r, g, b))
			if err != nil {
				t.Fatal(err)
			}
			if len(img.Lines) != m.NumLines {
				t.Fatalf("got %d lines want %d", len(img.Lines), m.NumLines)
			}
			for _, line := range []int{0, m.NumLines - 1} {
				for ch, want := range test.want {
					if got := img.Lines[line][ch][m.Width-1]; got != want {
						t.Errorf("line %d channel %d got %f want %f", line, ch, got, want)
					}
				}
			}
		})
	}
}

func TestPrepareIgnoresAlpha(t *testing.T) {
	m := mustLookup(t, "M2")
	opaque := solidFrame(m, 40, 80, 120)
	transparent := solidFrame(m, 40, 80, 120)
	for i := 3; i < len(transparent); i += 4 {
		transparent[i] = 0
	}
	a, err := Prepare(m, opaque)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Prepare(m, transparent)
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(a.Lines, b.Lines); diff != nil {
		t.Errorf("alpha changed the prepared image: %v", diff)
	}
}

func TestPrepareChromaAveraging(t *testing.T) {
	m := mustLookup(t, "PD50")
	pix := noiseFrame(m, 1)
	img, err := Prepare(m, pix)
	if err != nil {
		t.Fatal(err)
	}

	for line := 0; line < m.NumLines; line += 2 {
		for pos := 0; pos < m.Width; pos++ {
			y0, ry0, by0, err := yuvFrequencies(pix, m.Width, line, pos)
			if err != nil {
				t.Fatal(err)
			}
			y1, ry1, by1, err := yuvFrequencies(pix, m.Width, line+1, pos)
			if err != nil {
				t.Fatal(err)
			}

			even, odd := img.Lines[line], img.Lines[line+1]
			if even[ChanY][pos] != y0 || odd[ChanY][pos] != y1 {
				t.Fatalf("line %d pos %d: luma not kept per line", line, pos)
			}
			if got, want := even[ChanRY][pos], (ry0+ry1)/2; math.Abs(got-want) > 1e-9 {
				t.Fatalf("line %d pos %d: R-Y got %f want %f", line, pos, got, want)
			}
			if got, want := even[ChanBY][pos], (by0+by1)/2; math.Abs(got-want) > 1e-9 {
				t.Fatalf("line %d pos %d: B-Y got %f want %f", line, pos, got, want)
			}
		}
	}
}

func TestPrepareDoesNotModifyInput(t *testing.T) {
	m := mustLookup(t, "PD90")
	pix := noiseFrame(m, 2)
	orig := append([]byte(nil), pix...)
	if _, err := Prepare(m, pix); err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(pix, orig); diff != nil {
		t.Errorf("input buffer modified: %v", diff)
	}
}
