package sstv

// Segment is one step of a transmission: either a constant tone or a scan
// line curve spread evenly over Duration.
type Segment struct {
	Freq     float64   // Hz, used when Curve is nil
	Curve    []float64 // Hz per sample, linearly interpolated
	Duration float64   // seconds
}

// tone returns a constant tone segment
func tone(freq, duration float64) Segment {
	return Segment{Freq: freq, Duration: duration}
}

// curve returns a data segment
func curve(samples []float64, duration float64) Segment {
	return Segment{Curve: samples, Duration: duration}
}

// IsCurve reports whether the segment carries image data
func (s Segment) IsCurve() bool {
	return s.Curve != nil
}

// FrequencyAt returns the segment frequency at offset seconds from its start.
// Curves interpolate between adjacent values; the last value holds at and
// beyond the end.
func (s Segment) FrequencyAt(offset float64) float64 {
	n := len(s.Curve)
	switch {
	case s.Curve == nil:
		return s.Freq
	case n == 0:
		return 0
	case n == 1 || offset <= 0:
		return s.Curve[0]
	}

	pos := offset / s.Duration * float64(n-1)
	k := int(pos)
	if k >= n-1 {
		return s.Curve[n-1]
	}
	frac := pos - float64(k)
	return s.Curve[k] + (s.Curve[k+1]-s.Curve[k])*frac
}

// Sequence is the complete, ordered segment list of one transmission
type Sequence []Segment

// Duration returns the sum of all segment durations in seconds
func (seq Sequence) Duration() float64 {
	total := 0.0
	for _, s := range seq {
		total += s.Duration
	}
	return total
}

// Starts returns the start time of every segment relative to the first
func (seq Sequence) Starts() []float64 {
	starts := make([]float64, len(seq))
	t := 0.0
	for i, s := range seq {
		starts[i] = t
		t += s.Duration
	}
	return starts
}
