package sstv

import "fmt"

// Encode builds the complete segment sequence for one image.
// pix is an RGBA row-major buffer of mode.Width x mode.NumLines pixels.
func Encode(mode Mode, pix []byte) (Sequence, error) {
	img, err := Prepare(mode, pix)
	if err != nil {
		return nil, err
	}
	return Sequencer(img), nil
}

// Sequencer emits the leader, VIS header and every scan line of a prepared
// image in transmission order
func Sequencer(img *PreparedImage) Sequence {
	m := img.Mode
	seq := make(Sequence, 0, segmentCount(m))
	seq = appendPrefix(seq)
	seq = appendHeader(seq, m)

	switch m.Family {
	case FamilyMartin:
		seq = sequenceMartin(seq, img)
	case FamilyScottie:
		seq = sequenceScottie(seq, img)
	case FamilyPD:
		seq = sequencePD(seq, img)
	case FamilyWraase:
		seq = sequenceWraase(seq, img)
	default:
		panic(fmt.Sprintf("sstv: no sequencer for %v", m.Family))
	}
	return seq
}

// sync, porch, then each channel followed by a separator
func sequenceMartin(seq Sequence, img *PreparedImage) Sequence {
	m := img.Mode
	for line := 0; line < m.NumLines; line++ {
		seq = append(seq, tone(SyncFreq, m.SyncTime), tone(BlankFreq, m.BlankTime))
		for ch := 0; ch < 3; ch++ {
			seq = append(seq,
				curve(img.Lines[line][ch], m.ScanTime),
				tone(BlankFreq, m.BlankTime))
		}
	}
	return seq
}

// one leading sync, then the line sync falls between channels 1 and 2
func sequenceScottie(seq Sequence, img *PreparedImage) Sequence {
	m := img.Mode
	seq = append(seq, tone(SyncFreq, m.SyncTime))
	for line := 0; line < m.NumLines; line++ {
		for ch := 0; ch < 3; ch++ {
			if ch == 2 {
				seq = append(seq, tone(SyncFreq, m.SyncTime))
			}
			seq = append(seq,
				tone(BlankFreq, m.BlankTime),
				curve(img.Lines[line][ch], m.ScanTime))
		}
	}
	return seq
}

// line pairs: Y(even), shared R-Y, shared B-Y, Y(odd)
func sequencePD(seq Sequence, img *PreparedImage) Sequence {
	m := img.Mode
	for line := 0; line+1 < m.NumLines; line += 2 {
		even, odd := img.Lines[line], img.Lines[line+1]
		seq = append(seq,
			tone(SyncFreq, m.SyncTime),
			tone(BlankFreq, m.BlankTime),
			curve(even[ChanY], m.ScanTime),
			curve(even[ChanRY], m.ScanTime),
			curve(even[ChanBY], m.ScanTime),
			curve(odd[ChanY], m.ScanTime))
	}
	return seq
}

// sync, porch, then the three channels back to back
func sequenceWraase(seq Sequence, img *PreparedImage) Sequence {
	m := img.Mode
	for line := 0; line < m.NumLines; line++ {
		seq = append(seq, tone(SyncFreq, m.SyncTime), tone(BlankFreq, m.BlankTime))
		for ch := 0; ch < 3; ch++ {
			seq = append(seq, curve(img.Lines[line][ch], m.ScanTime))
		}
	}
	return seq
}

// segmentCount is the number of segments Sequencer emits for m
func segmentCount(m Mode) int {
	n := len(prefixTones) + 4 + numVISBits + 2
	switch m.Family {
	case FamilyMartin:
		n += m.NumLines * 8
	case FamilyScottie:
		n += 1 + m.NumLines*7
	case FamilyPD:
		n += m.NumLines / 2 * 6
	case FamilyWraase:
		n += m.NumLines * 5
	}
	return n
}

// LineDuration returns the time from one line sync to the next. For the PD
// family this covers a line pair.
func (m Mode) LineDuration() float64 {
	switch m.Family {
	case FamilyMartin:
		return m.SyncTime + m.BlankTime + 3*(m.ScanTime+m.BlankTime)
	case FamilyScottie:
		return m.SyncTime + 3*(m.BlankTime+m.ScanTime)
	case FamilyPD:
		return m.SyncTime + m.BlankTime + 4*m.ScanTime
	case FamilyWraase:
		return m.SyncTime + m.BlankTime + 3*m.ScanTime
	}
	return 0
}

// Duration returns the total transmission length in seconds computed from
// the mode parameters alone. It matches Sequence.Duration of any image
// encoded with the mode.
func (m Mode) Duration() float64 {
	body := 0.0
	switch m.Family {
	case FamilyMartin, FamilyWraase:
		body = float64(m.NumLines) * m.LineDuration()
	case FamilyScottie:
		body = m.SyncTime + float64(m.NumLines)*m.LineDuration()
	case FamilyPD:
		body = float64(m.NumLines/2) * m.LineDuration()
	}
	return HeaderDuration + body
}
