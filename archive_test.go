package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/cwsl/sstv_encoder/sstv"
	"github.com/go-test/deep"
)

func archiveTransmission(t *testing.T) *sstv.Transmission {
	t.Helper()
	mode, err := sstv.Lookup("M2")
	if err != nil {
		t.Fatal(err)
	}
	// A short synthetic recording is enough to exercise the file format
	pcm := make([]int16, 4000)
	for i := range pcm {
		pcm[i] = int16((i*37)%65536 - 32768)
	}
	return &sstv.Transmission{Mode: mode, PCM: pcm, SampleRate: 11025}
}

func TestArchiveDisabled(t *testing.T) {
	a, err := NewArchive(ArchiveConfig{Enabled: false})
	if err != nil || a != nil {
		t.Fatalf("disabled archive = %v, %v", a, err)
	}
	// A nil archive ignores stores
	if path, err := a.Store("id", archiveTransmission(t)); path != "" || err != nil {
		t.Fatalf("nil Store = %q, %v", path, err)
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "zstd"
		}
		t.Run(name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "archive")
			a, err := NewArchive(ArchiveConfig{Enabled: true, Dir: dir, Compress: compress})
			if err != nil {
				t.Fatal(err)
			}

			tx := archiveTransmission(t)
			path, err := a.Store("abc", tx)
			if err != nil {
				t.Fatalf("Store: %v", err)
			}

			wantSuffix := "abc_M2.wav"
			if compress {
				wantSuffix += ".zst"
			}
			if !strings.HasSuffix(path, wantSuffix) {
				t.Errorf("path %q, want suffix %q", path, wantSuffix)
			}

			pcm, rate, err := a.Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if rate != tx.SampleRate {
				t.Errorf("rate = %d, want %d", rate, tx.SampleRate)
			}
			if diff := deep.Equal(pcm, tx.PCM); diff != nil {
				t.Errorf("pcm differs: %v", diff)
			}
		})
	}
}
