package sstv

import (
	"fmt"
	"strings"
)

/*
 * SSTV Mode Specifications (transmit side)
 *
 * Timings are the per-channel scan time, not the per-pixel time used by
 * receivers: ScanTime = Width * pixel time.
 *
 * References:
 *   - Martin Bruchanov OK2MNM (2012, 2019): www.sstv-handbook.com/download/sstv_04.pdf
 *   - JL Barber N7CXI: "Proposal for SSTV Mode Specifications" (Dayton SSTV forum, 2000)
 *   - Dave Jones KB4YZ (1998): "List of SSTV Modes with VIS Codes"
 */

// Family selects the scan-line layout used by a mode
type Family int

const (
	// FamilyMartin: sync, porch, then G, B, R each followed by a separator
	FamilyMartin Family = iota
	// FamilyScottie: sync sits between the B and R channels
	FamilyScottie
	// FamilyPD: one sync per line pair, Y(even) R-Y B-Y Y(odd)
	FamilyPD
	// FamilyWraase: sync, porch, R G B with no separators
	FamilyWraase
)

func (f Family) String() string {
	switch f {
	case FamilyMartin:
		return "martin"
	case FamilyScottie:
		return "scottie"
	case FamilyPD:
		return "pd"
	case FamilyWraase:
		return "wraase"
	}
	return fmt.Sprintf("family(%d)", int(f))
}

// ColorEncoding returns the channel order the family transmits
func (f Family) ColorEncoding() string {
	switch f {
	case FamilyMartin, FamilyScottie:
		return "GBR"
	case FamilyWraase:
		return "RGB"
	case FamilyPD:
		return "YUVY"
	}
	return ""
}

// Mode defines the transmit parameters of an SSTV mode
type Mode struct {
	ShortName string  // Selector code (M1, PD120, ...)
	Name      string  // Long, human-readable name
	Family    Family  // Scan-line layout
	NumLines  int     // Scan lines (image height)
	Width     int     // Samples per scan line (image width)
	BlankTime float64 // Porch / separator pulse duration (seconds)
	ScanTime  float64 // Duration of one channel's data (seconds)
	SyncTime  float64 // Sync pulse duration (seconds)
	VIS       [7]bool // VIS bits, most significant first
}

// VISCode returns the VIS bits as a 7-bit value
func (m Mode) VISCode() uint8 {
	var code uint8
	for _, bit := range m.VIS {
		code <<= 1
		if bit {
			code |= 1
		}
	}
	return code
}

// FrameBytes is the minimum RGBA buffer size the mode consumes
func (m Mode) FrameBytes() int {
	return m.NumLines * m.Width * 4
}

// Resolution returns "WIDTHxHEIGHT"
func (m Mode) Resolution() string {
	return fmt.Sprintf("%dx%d", m.Width, m.NumLines)
}

// visBits expands a 7-bit code into the stored most-significant-first form
func visBits(code uint8) [7]bool {
	var bits [7]bool
	for i := range bits {
		bits[i] = code&(1<<(6-i)) != 0
	}
	return bits
}

// modeTable holds every supported mode, in selector order
var modeTable = []Mode{
	// Martin modes
	{
		ShortName: "M1", Name: "Martin M1", Family: FamilyMartin,
		NumLines: 256, Width: 320,
		BlankTime: 0.572e-3, ScanTime: 146.432e-3, SyncTime: 4.862e-3,
		VIS: visBits(0x2C),
	},
	{
		ShortName: "M2", Name: "Martin M2", Family: FamilyMartin,
		NumLines: 256, Width: 320,
		BlankTime: 0.572e-3, ScanTime: 73.216e-3, SyncTime: 4.862e-3,
		VIS: visBits(0x28),
	},

	// Scottie modes
	{
		ShortName: "S1", Name: "Scottie S1", Family: FamilyScottie,
		NumLines: 256, Width: 320,
		BlankTime: 1.5e-3, ScanTime: 138.240e-3, SyncTime: 9e-3,
		VIS: visBits(0x3C),
	},
	{
		ShortName: "S2", Name: "Scottie S2", Family: FamilyScottie,
		NumLines: 256, Width: 320,
		BlankTime: 1.5e-3, ScanTime: 88.064e-3, SyncTime: 9e-3,
		VIS: visBits(0x38),
	},
	{
		ShortName: "SDX", Name: "Scottie DX", Family: FamilyScottie,
		NumLines: 256, Width: 320,
		BlankTime: 1.5e-3, ScanTime: 345.6e-3, SyncTime: 9e-3,
		VIS: visBits(0x4C),
	},

	// PD modes
	{
		ShortName: "PD50", Name: "PD-50", Family: FamilyPD,
		NumLines: 256, Width: 320,
		BlankTime: 2.08e-3, ScanTime: 91.520e-3, SyncTime: 20e-3,
		VIS: visBits(0x5D),
	},
	{
		ShortName: "PD90", Name: "PD-90", Family: FamilyPD,
		NumLines: 256, Width: 320,
		BlankTime: 2.08e-3, ScanTime: 170.240e-3, SyncTime: 20e-3,
		VIS: visBits(0x63),
	},
	{
		ShortName: "PD120", Name: "PD-120", Family: FamilyPD,
		NumLines: 496, Width: 640,
		BlankTime: 2.08e-3, ScanTime: 121.600e-3, SyncTime: 20e-3,
		VIS: visBits(0x5F),
	},
	{
		ShortName: "PD160", Name: "PD-160", Family: FamilyPD,
		NumLines: 400, Width: 512,
		BlankTime: 2.08e-3, ScanTime: 195.584e-3, SyncTime: 20e-3,
		VIS: visBits(0x62),
	},
	{
		ShortName: "PD180", Name: "PD-180", Family: FamilyPD,
		NumLines: 496, Width: 640,
		BlankTime: 2.08e-3, ScanTime: 183.040e-3, SyncTime: 20e-3,
		VIS: visBits(0x60),
	},
	{
		ShortName: "PD240", Name: "PD-240", Family: FamilyPD,
		NumLines: 496, Width: 640,
		BlankTime: 2.08e-3, ScanTime: 244.480e-3, SyncTime: 20e-3,
		VIS: visBits(0x61),
	},
	{
		ShortName: "PD290", Name: "PD-290", Family: FamilyPD,
		NumLines: 616, Width: 800,
		BlankTime: 2.08e-3, ScanTime: 228.800e-3, SyncTime: 20e-3,
		VIS: visBits(0x5E),
	},

	// Wraase SC-2 modes
	{
		ShortName: "WrasseSC2180", Name: "Wraase SC-2 180", Family: FamilyWraase,
		NumLines: 256, Width: 320,
		BlankTime: 0.5e-3, ScanTime: 235e-3, SyncTime: 5.5225e-3,
		VIS: visBits(0x37),
	},
}

// visIndex maps 7-bit VIS codes to positions in modeTable (+1, 0 = none)
var visIndex [128]uint8

func init() {
	for i, m := range modeTable {
		code := m.VISCode()
		if visIndex[code] != 0 {
			panic(fmt.Sprintf("sstv: duplicate VIS code 0x%02X for %s and %s",
				code, modeTable[visIndex[code]-1].ShortName, m.ShortName))
		}
		visIndex[code] = uint8(i + 1)
	}
}

// Modes returns a copy of every supported mode in selector order
func Modes() []Mode {
	modes := make([]Mode, len(modeTable))
	copy(modes, modeTable)
	return modes
}

// Lookup returns the mode for a selector code such as "M1" or "PD120".
// Matching ignores case and surrounding space.
func Lookup(code string) (Mode, error) {
	code = strings.TrimSpace(code)
	if code == "" || strings.EqualFold(code, "none") {
		return Mode{}, ErrUnconfiguredMode
	}
	for _, m := range modeTable {
		if strings.EqualFold(m.ShortName, code) {
			return m, nil
		}
	}
	return Mode{}, fmt.Errorf("%w: %q", ErrUnknownMode, code)
}

// LookupVIS returns the mode registered for a 7-bit VIS code
func LookupVIS(code uint8) (Mode, bool) {
	if code >= 128 {
		return Mode{}, false
	}
	idx := visIndex[code]
	if idx == 0 {
		return Mode{}, false
	}
	return modeTable[idx-1], true
}
