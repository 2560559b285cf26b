package sstv

import (
	"errors"
	"testing"
)

func TestVISCodes(t *testing.T) {
	tests := []struct {
		code string
		vis  uint8
		fam  Family
		res  string
	}{
		{"M1", 0x2C, FamilyMartin, "320x256"},
		{"M2", 0x28, FamilyMartin, "320x256"},
		{"S1", 0x3C, FamilyScottie, "320x256"},
		{"S2", 0x38, FamilyScottie, "320x256"},
		{"SDX", 0x4C, FamilyScottie, "320x256"},
		{"PD50", 0x5D, FamilyPD, "320x256"},
		{"PD90", 0x63, FamilyPD, "320x256"},
		{"PD120", 0x5F, FamilyPD, "640x496"},
		{"PD160", 0x62, FamilyPD, "512x400"},
		{"PD180", 0x60, FamilyPD, "640x496"},
		{"PD240", 0x61, FamilyPD, "640x496"},
		{"PD290", 0x5E, FamilyPD, "800x616"},
		{"WrasseSC2180", 0x37, FamilyWraase, "320x256"},
	}
	if got, want := len(Modes()), len(tests); got != want {
		t.Fatalf("registry has %d modes, want %d", got, want)
	}
	for _, test := range tests {
		t.Run(test.code, func(t *testing.T) {
			m, err := Lookup(test.code)
			if err != nil {
				t.Fatalf("Lookup(%q): %v", test.code, err)
			}
			if got := m.VISCode(); got != test.vis {
				t.Errorf("VIS got 0x%02X want 0x%02X", got, test.vis)
			}
			if m.Family != test.fam {
				t.Errorf("family got %v want %v", m.Family, test.fam)
			}
			if got := m.Resolution(); got != test.res {
				t.Errorf("resolution got %s want %s", got, test.res)
			}
		})
	}
}

func TestMartinM1StoredBits(t *testing.T) {
	m, err := Lookup("M1")
	if err != nil {
		t.Fatal(err)
	}
	want := [7]bool{false, true, false, true, true, false, false}
	if m.VIS != want {
		t.Errorf("M1 VIS bits got %v want %v", m.VIS, want)
	}
}

func TestVISUnique(t *testing.T) {
	seen := make(map[uint8]string)
	for _, m := range Modes() {
		code := m.VISCode()
		if code >= 128 {
			t.Errorf("%s: VIS 0x%02X is not 7 bits", m.ShortName, code)
		}
		if other, ok := seen[code]; ok {
			t.Errorf("%s and %s share VIS 0x%02X", other, m.ShortName, code)
		}
		seen[code] = m.ShortName
	}
}

func TestModeParameters(t *testing.T) {
	for _, m := range Modes() {
		if m.BlankTime < 0 || m.ScanTime <= 0 || m.SyncTime <= 0 {
			t.Errorf("%s: bad timings blank=%g scan=%g sync=%g", m.ShortName, m.BlankTime, m.ScanTime, m.SyncTime)
		}
		if m.Width <= 0 || m.NumLines <= 0 {
			t.Errorf("%s: bad geometry %s", m.ShortName, m.Resolution())
		}
		if m.Family == FamilyPD && m.NumLines%2 != 0 {
			t.Errorf("%s: PD mode with odd line count %d", m.ShortName, m.NumLines)
		}
	}
}

func TestLookup(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		want    string
		wantErr error
	}{
		{name: "exact", code: "PD120", want: "PD120"},
		{name: "lower case", code: "sdx", want: "SDX"},
		{name: "padded", code: " M2 ", want: "M2"},
		{name: "empty", code: "", wantErr: ErrUnconfiguredMode},
		{name: "none", code: "none", wantErr: ErrUnconfiguredMode},
		{name: "unknown", code: "RobotBW8", wantErr: ErrUnknownMode},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			m, err := Lookup(test.code)
			if test.wantErr != nil {
				if !errors.Is(err, test.wantErr) {
					t.Fatalf("Lookup(%q) error got %v want %v", test.code, err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Lookup(%q): %v", test.code, err)
			}
			if m.ShortName != test.want {
				t.Errorf("Lookup(%q) got %s want %s", test.code, m.ShortName, test.want)
			}
		})
	}
}

func TestLookupVIS(t *testing.T) {
	for _, m := range Modes() {
		got, ok := LookupVIS(m.VISCode())
		if !ok || got.ShortName != m.ShortName {
			t.Errorf("LookupVIS(0x%02X) got %q/%t want %s", m.VISCode(), got.ShortName, ok, m.ShortName)
		}
	}
	if _, ok := LookupVIS(0x00); ok {
		t.Errorf("LookupVIS(0x00) found a mode")
	}
	if _, ok := LookupVIS(200); ok {
		t.Errorf("LookupVIS(200) found a mode")
	}
}

func TestModesReturnsCopy(t *testing.T) {
	modes := Modes()
	modes[0].VIS[0] = !modes[0].VIS[0]
	modes[0].ShortName = "changed"
	if Modes()[0].ShortName == "changed" || Modes()[0].VIS == modes[0].VIS {
		t.Errorf("mutating Modes() result changed the registry")
	}
}
