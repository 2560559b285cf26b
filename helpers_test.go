package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

// testConfig returns a validated default config that renders at a low rate
func testConfig(t *testing.T) *Config {
	t.Helper()
	config := DefaultConfig()
	config.Encoder.SampleRate = 11025
	config.Server.RateLimitPerMinute = 0
	if err := config.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return config
}

// pngBytes encodes a solid w x h picture
func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

// newTestTransmitter builds a transmitter with history and isolated metrics
func newTestTransmitter(t *testing.T, config *Config) *Transmitter {
	t.Helper()
	return NewTransmitter(config, TransmitterServices{
		History: NewTransmissionLog(config.Server.HistorySize),
		Metrics: newTestMetrics(),
		Gate:    NewTransmitGate(noopPTT{}, config.PTT, nil),
	})
}
