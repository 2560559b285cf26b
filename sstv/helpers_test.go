package sstv

import (
	"math/rand"
	"testing"
)

// solidFrame returns an RGBA frame for m filled with one colour
func solidFrame(m Mode, r, g, b byte) []byte {
	pix := make([]byte, m.FrameBytes())
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = r, g, b, 0xFF
	}
	return pix
}

// noiseFrame returns a reproducible random RGBA frame for m
func noiseFrame(m Mode, seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	pix := make([]byte, m.FrameBytes())
	rng.Read(pix)
	return pix
}

func mustLookup(t *testing.T, code string) Mode {
	t.Helper()
	m, err := Lookup(code)
	if err != nil {
		t.Fatalf("Lookup(%q): %v", code, err)
	}
	return m
}
