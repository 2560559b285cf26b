package sstv

import "fmt"

const (
	// BlackFreq is the video frequency of a zero channel value
	BlackFreq = 1500.0
	// WhiteFreq is the video frequency of a 255 channel value
	WhiteFreq = 2300.0
	// ColorFreqMult maps 0..255 onto the 800 Hz video band
	ColorFreqMult = 3.1372549
)

// DirectFrequency maps a channel value (0..255) onto the video band
func DirectFrequency(v float64) float64 {
	return v*ColorFreqMult + BlackFreq
}

// LumaChroma converts 8-bit RGB into Y, R-Y and B-Y values on the 0..255 scale
// used by the PD modes
func LumaChroma(r, g, b float64) (y, ry, by float64) {
	y = 6.0 + 0.003906*(65.738*r+129.057*g+25.064*b)
	ry = 128.0 + 0.003906*(112.439*r-94.154*g-18.285*b)
	by = 128.0 + 0.003906*(-37.945*r-74.494*g+112.439*b)
	return y, ry, by
}

// pixelOffset returns the byte offset of (line, pos) in an RGBA buffer and
// checks that all four bytes are present
func pixelOffset(pix []byte, width, line, pos int) (int, error) {
	idx := line*width*4 + pos*4
	if idx < 0 || idx+4 > len(pix) {
		return 0, fmt.Errorf("%w: pixel (%d,%d) at offset %d, buffer is %d bytes",
			ErrBufferSizeMismatch, pos, line, idx, len(pix))
	}
	return idx, nil
}

// rgbFrequencies returns the direct-mapped R, G and B frequencies of a pixel
func rgbFrequencies(pix []byte, width, line, pos int) (r, g, b float64, err error) {
	idx, err := pixelOffset(pix, width, line, pos)
	if err != nil {
		return 0, 0, 0, err
	}
	return DirectFrequency(float64(pix[idx])),
		DirectFrequency(float64(pix[idx+1])),
		DirectFrequency(float64(pix[idx+2])), nil
}

// yuvFrequencies returns the Y, R-Y and B-Y frequencies of a pixel
func yuvFrequencies(pix []byte, width, line, pos int) (y, ry, by float64, err error) {
	idx, err := pixelOffset(pix, width, line, pos)
	if err != nil {
		return 0, 0, 0, err
	}
	y, ry, by = LumaChroma(float64(pix[idx]), float64(pix[idx+1]), float64(pix[idx+2]))
	return DirectFrequency(y), DirectFrequency(ry), DirectFrequency(by), nil
}
