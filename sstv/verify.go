package sstv

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

/*
 * VIS header verification
 *
 * Reads the VIS code back out of rendered PCM to confirm a receiver can
 * identify the mode. Each tone is measured over the centre of its slot with a
 * Hann-windowed FFT and Gaussian peak interpolation, the same way slowrx
 * measures header tones. Timing is taken from the header layout rather than
 * recovered from the signal, so this only accepts audio that starts at the
 * first leader tone.
 */

// ErrVISNotFound is returned when the header tones do not form a valid VIS code
var ErrVISNotFound = errors.New("no valid VIS header")

// visToneTolerance is how far a measured tone may sit from its nominal value
const visToneTolerance = 50.0

// VISReport describes a decoded header
type VISReport struct {
	Code   uint8       // 7-bit VIS code
	Parity bool        // received parity bit
	Tones  [10]float64 // measured start, data, parity, stop frequencies
	Mode   Mode
}

// DetectVIS decodes the VIS header at the start of pcm
func DetectVIS(pcm []int16, sampleRate int) (*VISReport, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if SampleCount(HeaderDuration, sampleRate) > len(pcm) {
		return nil, fmt.Errorf("%w: %d samples is shorter than the header", ErrVISNotFound, len(pcm))
	}

	meter := newToneMeter(sampleRate, VISBitTime*2/3)

	// Second 300ms leader tone
	leaderStart := float64(len(prefixTones))*PrefixTime + LeaderTime + BreakTime
	if f := meter.measure(pcm, leaderStart+LeaderTime/2); !near(f, LeaderFreq) {
		return nil, fmt.Errorf("%w: leader measured %.1f Hz", ErrVISNotFound, f)
	}

	report := &VISReport{}
	visStart := leaderStart + LeaderTime
	for slot := 0; slot < visSlotCount; slot++ {
		centre := visStart + (float64(slot)+0.5)*VISBitTime
		report.Tones[slot] = meter.measure(pcm, centre)
	}

	if !near(report.Tones[0], SyncFreq) || !near(report.Tones[visSlotCount-1], SyncFreq) {
		return nil, fmt.Errorf("%w: start/stop bits measured %.1f/%.1f Hz",
			ErrVISNotFound, report.Tones[0], report.Tones[visSlotCount-1])
	}

	set := 0
	for k := 0; k <= numVISBits; k++ {
		f := report.Tones[1+k]
		var bit bool
		switch {
		case near(f, VISOneFreq):
			bit = true
		case near(f, VISZeroFreq):
			bit = false
		default:
			return nil, fmt.Errorf("%w: bit %d measured %.1f Hz", ErrVISNotFound, k, f)
		}
		if bit {
			set++
		}
		if k == numVISBits {
			report.Parity = bit
		} else if bit {
			report.Code |= 1 << k
		}
	}

	if set%2 != 0 {
		return report, fmt.Errorf("%w: parity error on code 0x%02X", ErrVISNotFound, report.Code)
	}

	mode, ok := LookupVIS(report.Code)
	if !ok {
		return report, fmt.Errorf("%w: code 0x%02X is not a known mode", ErrVISNotFound, report.Code)
	}
	report.Mode = mode
	return report, nil
}

func near(f, nominal float64) bool {
	return math.Abs(f-nominal) < visToneTolerance
}

// toneMeter estimates the dominant frequency of a short window
type toneMeter struct {
	sampleRate float64
	window     []float64
	fft        *fourier.FFT
	input      []float64
	powers     []float64
}

func newToneMeter(sampleRate int, span float64) *toneMeter {
	n := int(float64(sampleRate) * span)
	if n < 2 {
		n = 2
	}
	hann := make([]float64, n)
	for i := range hann {
		hann[i] = 0.5 * (1.0 - math.Cos(2.0*math.Pi*float64(i)/float64(n-1)))
	}

	// zero pad to at least 4x the window for finer bins
	size := 1
	for size < 4*n {
		size <<= 1
	}

	return &toneMeter{
		sampleRate: float64(sampleRate),
		window:     hann,
		fft:        fourier.NewFFT(size),
		input:      make([]float64, size),
		powers:     make([]float64, size/2+1),
	}
}

func (tm *toneMeter) binFreq(bin float64) float64 {
	return bin / float64(len(tm.input)) * tm.sampleRate
}

// measure returns the peak frequency between 500 and 3300 Hz of the window
// centred on time t
func (tm *toneMeter) measure(pcm []int16, t float64) float64 {
	n := len(tm.window)
	first := int(t*tm.sampleRate) - n/2

	for i := range tm.input {
		tm.input[i] = 0
	}
	for i := 0; i < n; i++ {
		idx := first + i
		if idx < 0 || idx >= len(pcm) {
			continue
		}
		tm.input[i] = float64(pcm[idx]) / 32768.0 * tm.window[i]
	}

	coeffs := tm.fft.Coefficients(nil, tm.input)
	for i, c := range coeffs {
		tm.powers[i] = real(c)*real(c) + imag(c)*imag(c)
	}

	minBin := int(500.0 / tm.sampleRate * float64(len(tm.input)))
	maxBin := int(3300.0 / tm.sampleRate * float64(len(tm.input)))
	if maxBin > len(tm.powers)-1 {
		maxBin = len(tm.powers) - 1
	}

	peak := minBin
	for i := minBin; i < maxBin; i++ {
		if tm.powers[i] > tm.powers[peak] {
			peak = i
		}
	}

	// Gaussian interpolation between neighbouring bins
	if peak > minBin && peak < maxBin-1 {
		p0, p1, p2 := tm.powers[peak-1], tm.powers[peak], tm.powers[peak+1]
		if p0 > 0 && p1 > 0 && p2 > 0 {
			denom := 2 * math.Log((p1*p1)/(p0*p2))
			if math.Abs(denom) > 1e-9 {
				return tm.binFreq(float64(peak) + math.Log(p2/p0)/denom)
			}
		}
	}
	return tm.binFreq(float64(peak))
}
