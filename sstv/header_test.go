package sstv

import (
	"math"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/go-test/deep"
)

func TestHeaderDuration(t *testing.T) {
	if math.Abs(HeaderDuration-1.71) > 1e-9 {
		t.Errorf("HeaderDuration got %f want 1.71", HeaderDuration)
	}
	seq := appendHeader(appendPrefix(nil), mustLookup(t, "M1"))
	if got := seq.Duration(); math.Abs(got-HeaderDuration) > 1e-9 {
		t.Errorf("header sequence lasts %f want %f", got, HeaderDuration)
	}
}

func TestHeaderMartinM1(t *testing.T) {
	m := mustLookup(t, "M1")
	got := appendHeader(appendPrefix(nil), m)

	// 0x2C = 0101100, sent LSB first: 0 0 1 1 0 1 0, three ones so parity is 1
	want := Sequence{
		tone(1900, 0.1), tone(1500, 0.1), tone(1900, 0.1), tone(1500, 0.1),
		tone(2300, 0.1), tone(1500, 0.1), tone(2300, 0.1), tone(1500, 0.1),
		tone(1900, 0.3), tone(1200, 0.01), tone(1900, 0.3),
		tone(1200, 0.03),
		tone(1300, 0.03), tone(1300, 0.03), tone(1100, 0.03), tone(1100, 0.03),
		tone(1300, 0.03), tone(1100, 0.03), tone(1300, 0.03),
		tone(1100, 0.03),
		tone(1200, 0.03),
	}
	if diff := deep.Equal(got, want); diff != nil {
		t.Errorf("M1 header mismatch: %v\n%s", diff, spew.Sdump(got))
	}
}

func TestVISParity(t *testing.T) {
	for _, m := range Modes() {
		set := 0
		for code := m.VISCode(); code != 0; code >>= 1 {
			set += int(code & 1)
		}
		if got, want := VISParity(m), set%2 == 1; got != want {
			t.Errorf("%s: parity got %t want %t", m.ShortName, got, want)
		}

		seq := appendHeader(nil, m)
		bits := seq[4 : 4+numVISBits+1]
		ones := 0
		for _, s := range bits {
			if s.Freq == VISOneFreq {
				ones++
			}
		}
		if ones%2 != 0 {
			t.Errorf("%s: %d ones across data and parity bits", m.ShortName, ones)
		}
	}
}

func TestHeaderLSBFirst(t *testing.T) {
	for _, m := range Modes() {
		seq := appendHeader(nil, m)
		var code uint8
		for k := 0; k < numVISBits; k++ {
			if seq[4+k].Freq == VISOneFreq {
				code |= 1 << k
			}
		}
		if code != m.VISCode() {
			t.Errorf("%s: transmitted code 0x%02X want 0x%02X", m.ShortName, code, m.VISCode())
		}
	}
}

func TestHeaderLeavesModeUntouched(t *testing.T) {
	m := mustLookup(t, "PD120")
	before := m.VIS
	first := appendHeader(nil, m)
	second := appendHeader(nil, m)
	if m.VIS != before {
		t.Errorf("VIS bits changed from %v to %v", before, m.VIS)
	}
	if diff := deep.Equal(first, second); diff != nil {
		t.Errorf("second header differs: %v", diff)
	}
	if again := mustLookup(t, "PD120"); again.VIS != before {
		t.Errorf("registry VIS bits changed to %v", again.VIS)
	}
}
