package sstv

/*
 * Calibration leader and VIS header
 *
 * - 8 x 100ms leader tones: 1900 1500 1900 1500 2300 1500 2300 1500 Hz
 * - 300ms 1900 Hz, 10ms 1200 Hz break, 300ms 1900 Hz
 * - 30ms 1200 Hz start bit
 * - 7 x 30ms data bits, LSB first (1100 Hz = 1, 1300 Hz = 0)
 * - 30ms even parity bit
 * - 30ms 1200 Hz stop bit
 */

const (
	SyncFreq     = 1200.0
	BlankFreq    = 1500.0
	LeaderFreq   = 1900.0
	VISOneFreq   = 1100.0
	VISZeroFreq  = 1300.0
	PrefixTime   = 100e-3
	LeaderTime   = 300e-3
	BreakTime    = 10e-3
	VISBitTime   = 30e-3
	numVISBits   = 7
	visSlotCount = numVISBits + 3 // start, data, parity, stop
)

// prefixTones is the calibration leader receivers scan for
var prefixTones = [...]float64{1900, 1500, 1900, 1500, 2300, 1500, 2300, 1500}

// HeaderDuration is the length of the leader, break and VIS code
const HeaderDuration = float64(len(prefixTones))*PrefixTime +
	2*LeaderTime + BreakTime + visSlotCount*VISBitTime

func appendPrefix(seq Sequence) Sequence {
	for _, f := range prefixTones {
		seq = append(seq, tone(f, PrefixTime))
	}
	return seq
}

// VISParity returns the even parity bit for the mode's VIS code
func VISParity(m Mode) bool {
	set := 0
	for _, bit := range m.VIS {
		if bit {
			set++
		}
	}
	return set%2 == 1
}

func visFreq(bit bool) float64 {
	if bit {
		return VISOneFreq
	}
	return VISZeroFreq
}

func appendHeader(seq Sequence, m Mode) Sequence {
	seq = append(seq,
		tone(LeaderFreq, LeaderTime),
		tone(SyncFreq, BreakTime),
		tone(LeaderFreq, LeaderTime),
		tone(SyncFreq, VISBitTime),
	)

	// Stored order is MSB first, transmission is LSB first
	for i := len(m.VIS) - 1; i >= 0; i-- {
		seq = append(seq, tone(visFreq(m.VIS[i]), VISBitTime))
	}

	return append(seq,
		tone(visFreq(VISParity(m)), VISBitTime),
		tone(SyncFreq, VISBitTime),
	)
}
