package sstv

import "fmt"

// Channel indexes into a PreparedImage line
const (
	// GBR families (Martin, Scottie)
	ChanGreen = 0
	ChanBlue  = 1
	ChanRed   = 2

	// PD family
	ChanY  = 0
	ChanRY = 1
	ChanBY = 2
)

// PreparedImage holds one frequency curve per channel per scan line.
// Lines[line][channel][pos] is the frequency in Hz.
type PreparedImage struct {
	Mode  Mode
	Lines [][][]float64
}

// Prepare converts an RGBA row-major pixel buffer into per-line frequency
// curves in the channel order the mode's family transmits. The alpha byte
// is ignored.
func Prepare(mode Mode, pix []byte) (*PreparedImage, error) {
	if len(pix) == 0 {
		return nil, ErrMissingInput
	}
	if need := mode.FrameBytes(); len(pix) < need {
		return nil, fmt.Errorf("%w: %s needs %d bytes (%s RGBA), got %d",
			ErrBufferSizeMismatch, mode.ShortName, need, mode.Resolution(), len(pix))
	}

	img := &PreparedImage{
		Mode:  mode,
		Lines: make([][][]float64, mode.NumLines),
	}

	for line := 0; line < mode.NumLines; line++ {
		c0 := make([]float64, mode.Width)
		c1 := make([]float64, mode.Width)
		c2 := make([]float64, mode.Width)

		for pos := 0; pos < mode.Width; pos++ {
			var a, b, c float64
			var err error
			if mode.Family == FamilyPD {
				a, b, c, err = yuvFrequencies(pix, mode.Width, line, pos)
			} else {
				a, b, c, err = rgbFrequencies(pix, mode.Width, line, pos)
			}
			if err != nil {
				return nil, err
			}
			c0[pos], c1[pos], c2[pos] = a, b, c
		}

		switch mode.Family {
		case FamilyMartin, FamilyScottie:
			// c0, c1, c2 hold R, G, B; sent as G, B, R
			img.Lines[line] = [][]float64{c1, c2, c0}
		case FamilyWraase:
			img.Lines[line] = [][]float64{c0, c1, c2}
		case FamilyPD:
			img.Lines[line] = [][]float64{c0, c1, c2}
		default:
			return nil, fmt.Errorf("unsupported mode family %v", mode.Family)
		}
	}

	if mode.Family == FamilyPD {
		averageChroma(img)
	}

	return img, nil
}

// averageChroma stores the mean of each line pair's R-Y and B-Y curves on the
// even line. The odd line keeps its own chroma but it is never transmitted.
func averageChroma(img *PreparedImage) {
	for line := 0; line+1 < len(img.Lines); line += 2 {
		even, odd := img.Lines[line], img.Lines[line+1]
		for pos := range even[ChanRY] {
			even[ChanRY][pos] = (even[ChanRY][pos] + odd[ChanRY][pos]) / 2
			even[ChanBY][pos] = (even[ChanBY][pos] + odd[ChanBY][pos]) / 2
		}
	}
}
