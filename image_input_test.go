package main

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/cwsl/sstv_encoder/sstv"
)

func decodeTestImage(t *testing.T, c color.Color) image.Image {
	t.Helper()
	img, format, err := LoadImage(bytes.NewReader(pngBytes(t, 64, 48, c)))
	if err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	if format != "png" {
		t.Errorf("format = %q", format)
	}
	return img
}

func TestPrepareFrameSize(t *testing.T) {
	img := decodeTestImage(t, color.RGBA{R: 200, G: 100, B: 50, A: 255})

	for _, code := range []string{"M1", "PD290", "WrasseSC2180"} {
		mode, err := sstv.Lookup(code)
		if err != nil {
			t.Fatal(err)
		}
		frame, err := PrepareFrame(img, mode, FrameOptions{})
		if err != nil {
			t.Fatalf("%s: %v", code, err)
		}
		if b := frame.Bounds(); b.Dx() != mode.Width || b.Dy() != mode.NumLines {
			t.Errorf("%s: frame %v, want %dx%d", code, b, mode.Width, mode.NumLines)
		}
		if len(frame.Pix) != mode.FrameBytes() {
			t.Errorf("%s: %d bytes, want %d", code, len(frame.Pix), mode.FrameBytes())
		}
		// A solid picture stays solid when stretched
		if got := frame.RGBAAt(mode.Width/2, mode.NumLines/2); got.R != 200 || got.G != 100 || got.B != 50 {
			t.Errorf("%s: centre pixel %v", code, got)
		}
	}
}

func TestPrepareFrameCallsign(t *testing.T) {
	mode, _ := sstv.Lookup("M1")
	img := decodeTestImage(t, color.RGBA{R: 0, G: 128, B: 0, A: 255})

	plain, err := PrepareFrame(img, mode, FrameOptions{})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		location string
		rows     [2]int // band expected to contain overlay pixels
	}{
		{"top", CallsignTopLeft, [2]int{0, 40}},
		{"bottom", CallsignBottomLeft, [2]int{mode.NumLines - 40, mode.NumLines}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := PrepareFrame(img, mode, FrameOptions{Callsign: "n0call", CallsignLocation: tt.location})
			if err != nil {
				t.Fatal(err)
			}

			inside, outside := 0, 0
			for y := 0; y < mode.NumLines; y++ {
				for x := 0; x < mode.Width; x++ {
					if frame.RGBAAt(x, y) == plain.RGBAAt(x, y) {
						continue
					}
					if y >= tt.rows[0] && y < tt.rows[1] && x < mode.Width/2 {
						inside++
					} else {
						outside++
					}
				}
			}
			if inside == 0 {
				t.Error("overlay not drawn")
			}
			if outside != 0 {
				t.Errorf("%d pixels changed outside the overlay area", outside)
			}
		})
	}
}

func TestPrepareFrameErrors(t *testing.T) {
	mode, _ := sstv.Lookup("S1")
	img := decodeTestImage(t, color.White)

	if _, err := PrepareFrame(img, mode, FrameOptions{Resample: "lanczos"}); err == nil {
		t.Error("unknown resampler accepted")
	}
	if _, err := PrepareFrame(img, mode, FrameOptions{Callsign: "X", CallsignLocation: "middle"}); err == nil {
		t.Error("unknown callsign location accepted")
	}
}

func TestLoadImageGarbage(t *testing.T) {
	_, _, err := LoadImage(strings.NewReader("definitely not a picture"))
	if !errors.Is(err, ErrImageDecode) {
		t.Fatalf("err = %v, want ErrImageDecode", err)
	}
	if !errors.Is(err, image.ErrFormat) {
		t.Errorf("err = %v, want image.ErrFormat in chain", err)
	}
}

func TestFrameOptionsOverride(t *testing.T) {
	ic := ImageConfig{Callsign: "K1ABC", CallsignLocation: CallsignBottomLeft, Resample: "nearest"}

	if got := ic.frameOptions("  "); got.Callsign != "K1ABC" {
		t.Errorf("blank override gave %q", got.Callsign)
	}
	got := ic.frameOptions("W2XYZ")
	if got.Callsign != "W2XYZ" || got.CallsignLocation != CallsignBottomLeft || got.Resample != "nearest" {
		t.Errorf("frameOptions = %+v", got)
	}
}
