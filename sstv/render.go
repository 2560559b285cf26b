package sstv

import (
	"fmt"
	"math"
)

// DefaultSampleRate is the PCM rate used for file output
const DefaultSampleRate = 48000

// Oscillator is a continuously running tone generator whose frequency can be
// scheduled ahead of time. The method set mirrors a Web Audio AudioParam.
type Oscillator interface {
	// SetValueAtTime holds freq from time t until the next event
	SetValueAtTime(freq, t float64)
	// SetValueCurveAtTime ramps linearly through curve over duration from t
	SetValueCurveAtTime(curve []float64, t, duration float64)
}

// Schedule plays seq on osc starting at start (seconds on the oscillator's
// clock) and returns the time at which the oscillator should be stopped.
func Schedule(osc Oscillator, seq Sequence, start float64) float64 {
	t := start
	for _, s := range seq {
		if s.IsCurve() {
			osc.SetValueCurveAtTime(s.Curve, t, s.Duration)
		} else {
			osc.SetValueAtTime(s.Freq, t)
		}
		t += s.Duration
	}
	return t
}

// SetPoint is one scheduled oscillator event. Curve events ramp through
// Curve over Duration; tone events hold Frequency until superseded.
type SetPoint struct {
	Time      float64   `json:"t"`
	Frequency float64   `json:"f,omitempty"`
	Curve     []float64 `json:"curve,omitempty"`
	Duration  float64   `json:"d,omitempty"`
}

// Recorder is an Oscillator that records the events scheduled on it
type Recorder struct {
	Points []SetPoint
}

// SetValueAtTime records a tone event
func (r *Recorder) SetValueAtTime(freq, t float64) {
	r.Points = append(r.Points, SetPoint{Time: t, Frequency: freq})
}

// SetValueCurveAtTime records a curve event
func (r *Recorder) SetValueCurveAtTime(curve []float64, t, duration float64) {
	r.Points = append(r.Points, SetPoint{Time: t, Curve: curve, Duration: duration})
}

// SetPoints returns the live schedule of seq starting at start together with
// its end time
func SetPoints(seq Sequence, start float64) ([]SetPoint, float64) {
	rec := &Recorder{Points: make([]SetPoint, 0, len(seq))}
	end := Schedule(rec, seq, start)
	return rec.Points, end
}

// RenderOptions controls PCM rendering
type RenderOptions struct {
	SampleRate int     // Hz, 0 means DefaultSampleRate
	Amplitude  float64 // peak level, 0 means 1.0
}

func (o RenderOptions) withDefaults() RenderOptions {
	if o.SampleRate == 0 {
		o.SampleRate = DefaultSampleRate
	}
	if o.Amplitude == 0 {
		o.Amplitude = 1.0
	}
	return o
}

// SampleCount returns the number of PCM samples a sequence of the given
// duration renders to
func SampleCount(duration float64, sampleRate int) int {
	return int(math.Round(duration * float64(sampleRate)))
}

// Render rasterizes seq into 16-bit mono PCM with a phase continuous sine
// oscillator. The buffer is sized from the sequence duration before any
// sample is produced.
func Render(seq Sequence, opts RenderOptions) ([]int16, error) {
	opts = opts.withDefaults()
	if opts.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", opts.SampleRate)
	}
	if opts.Amplitude < 0 || opts.Amplitude > 1 {
		return nil, fmt.Errorf("amplitude %.3f outside (0, 1]", opts.Amplitude)
	}

	rate := float64(opts.SampleRate)
	pcm := make([]int16, SampleCount(seq.Duration(), opts.SampleRate))
	starts := seq.Starts()

	seg := 0
	phase := 0.0
	for i := range pcm {
		t := float64(i) / rate
		for seg+1 < len(seq) && t >= starts[seg+1] {
			seg++
		}

		freq := 0.0
		if len(seq) > 0 {
			freq = seq[seg].FrequencyAt(t - starts[seg])
		}

		pcm[i] = toInt16(opts.Amplitude * math.Sin(phase))

		phase += 2 * math.Pi * freq / rate
		if phase >= 2*math.Pi {
			phase = math.Mod(phase, 2*math.Pi)
		}
	}

	return pcm, nil
}

// toInt16 clamps a float sample to [-1, 1] and scales it to int16
func toInt16(s float64) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7FFF)
}
