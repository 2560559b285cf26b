package sstv

import (
	"math"
	"testing"

	"github.com/go-test/deep"
)

func TestSampleCountAllModes(t *testing.T) {
	if testing.Short() {
		t.Skip("renders every mode")
	}
	for _, m := range Modes() {
		t.Run(m.ShortName, func(t *testing.T) {
			tx, err := EncodeFile(m, solidFrame(m, 90, 160, 30), RenderOptions{})
			if err != nil {
				t.Fatal(err)
			}
			if got, want := len(tx.PCM), SampleCount(m.Duration(), DefaultSampleRate); got != want {
				t.Errorf("got %d samples want %d", got, want)
			}
			if got, want := tx.WAVSize(), WAVHeaderSize+2*len(tx.PCM); got != want {
				t.Errorf("WAVSize got %d want %d", got, want)
			}
		})
	}
}

func TestSampleCount(t *testing.T) {
	tests := []struct {
		d    float64
		rate int
		want int
	}{
		{1.0, 48000, 48000},
		{0.5e-3, 48000, 24},
		{0.572e-3, 48000, 27},
		{0.5, 11025, 5513},
		{0, 48000, 0},
	}
	for _, test := range tests {
		if got := SampleCount(test.d, test.rate); got != test.want {
			t.Errorf("SampleCount(%g, %d) got %d want %d", test.d, test.rate, got, test.want)
		}
	}
}

func TestToInt16(t *testing.T) {
	tests := []struct {
		in   float64
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32768},
		{2.5, 32767},
		{-7, -32768},
		{0.5, 16383},
		{-0.5, -16384},
	}
	for _, test := range tests {
		if got := toInt16(test.in); got != test.want {
			t.Errorf("toInt16(%g) got %d want %d", test.in, got, test.want)
		}
	}
}

func TestFrequencyAt(t *testing.T) {
	s := curve([]float64{1500, 2300, 1900}, 0.2)
	tests := []struct {
		offset float64
		want   float64
	}{
		{-1, 1500},
		{0, 1500},
		{0.05, 1900},
		{0.1, 2300},
		{0.15, 2100},
		{0.2, 1900},
		{0.3, 1900},
	}
	for _, test := range tests {
		if got := s.FrequencyAt(test.offset); math.Abs(got-test.want) > 1e-9 {
			t.Errorf("FrequencyAt(%g) got %f want %f", test.offset, got, test.want)
		}
	}
	if got := tone(1200, 1).FrequencyAt(0.5); got != 1200 {
		t.Errorf("tone FrequencyAt got %f want 1200", got)
	}
}

func TestRenderToneCrossings(t *testing.T) {
	const rate = 8000
	seq := Sequence{tone(1000, 0.5)}
	pcm, err := Render(seq, RenderOptions{SampleRate: rate})
	if err != nil {
		t.Fatal(err)
	}
	if len(pcm) != rate/2 {
		t.Fatalf("got %d samples want %d", len(pcm), rate/2)
	}
	// 1000 Hz over 0.5s crosses upward 500 times
	crossings := 0
	for i := 1; i < len(pcm); i++ {
		if pcm[i-1] < 0 && pcm[i] >= 0 {
			crossings++
		}
	}
	if crossings < 499 || crossings > 500 {
		t.Errorf("got %d upward crossings want 500", crossings)
	}
}

func TestRenderPhaseContinuous(t *testing.T) {
	const rate = 48000
	seq := Sequence{tone(1100, 0.03), tone(1300, 0.03), tone(1200, 0.01)}
	pcm, err := Render(seq, RenderOptions{SampleRate: rate, Amplitude: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	// Largest per-sample step of a 1300 Hz sine at this amplitude
	limit := 0.5*32767*2*math.Pi*1300/rate + 2
	for i := 1; i < len(pcm); i++ {
		if step := math.Abs(float64(pcm[i]) - float64(pcm[i-1])); step > limit {
			t.Fatalf("sample %d jumps by %.0f, limit %.0f", i, step, limit)
		}
	}
	peak := 0
	for _, s := range pcm {
		if int(s) > peak {
			peak = int(s)
		}
	}
	if peak > 16384 {
		t.Errorf("peak %d exceeds half scale", peak)
	}
}

func TestRenderOptions(t *testing.T) {
	seq := Sequence{tone(1500, 0.01)}
	if _, err := Render(seq, RenderOptions{SampleRate: -1}); err == nil {
		t.Errorf("negative sample rate accepted")
	}
	if _, err := Render(seq, RenderOptions{Amplitude: 1.5}); err == nil {
		t.Errorf("amplitude 1.5 accepted")
	}
	pcm, err := Render(nil, RenderOptions{})
	if err != nil || len(pcm) != 0 {
		t.Errorf("empty sequence got %d samples, err %v", len(pcm), err)
	}
}

func TestSchedule(t *testing.T) {
	m := mustLookup(t, "M2")
	seq, err := Encode(m, noiseFrame(m, 7))
	if err != nil {
		t.Fatal(err)
	}

	const start = 0.25
	points, end := SetPoints(seq, start)
	if math.Abs(end-(start+m.Duration())) > 1e-9 {
		t.Errorf("end got %f want %f", end, start+m.Duration())
	}
	if len(points) != len(seq) {
		t.Fatalf("got %d set-points want %d", len(points), len(seq))
	}
	if points[0].Time != start || points[0].Frequency != 1900 {
		t.Errorf("first point %+v", points[0])
	}
	for i := 1; i < len(points); i++ {
		if points[i].Time <= points[i-1].Time {
			t.Fatalf("point %d at %f does not follow %f", i, points[i].Time, points[i-1].Time)
		}
		if seq[i].IsCurve() {
			if diff := deep.Equal(points[i].Curve, seq[i].Curve); diff != nil || points[i].Duration != seq[i].Duration {
				t.Fatalf("point %d curve mismatch: %v", i, diff)
			}
		} else if points[i].Frequency != seq[i].Freq {
			t.Fatalf("point %d frequency %f want %f", i, points[i].Frequency, seq[i].Freq)
		}
	}
}
