package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/cwsl/sstv_encoder/sstv"
	"github.com/klauspost/compress/zstd"
)

// Archive stores a copy of every rendered transmission on disk as
// <dir>/<id>_<mode>.wav, or .wav.zst when compression is enabled
type Archive struct {
	dir      string
	compress bool
}

// NewArchive creates the archive directory if needed. A disabled config
// returns a nil Archive, which ignores Store calls.
func NewArchive(config ArchiveConfig) (*Archive, error) {
	if !config.Enabled {
		return nil, nil
	}
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory %s: %w", config.Dir, err)
	}
	log.Printf("[Archive] Storing transmissions in %s (zstd: %v)", config.Dir, config.Compress)
	return &Archive{dir: config.Dir, compress: config.Compress}, nil
}

// Filename returns the archive file name for a transmission
func (a *Archive) Filename(id string, mode sstv.Mode) string {
	name := fmt.Sprintf("%s_%s.wav", id, mode.ShortName)
	if a.compress {
		name += ".zst"
	}
	return filepath.Join(a.dir, name)
}

// Store writes tx to the archive and returns the file path
func (a *Archive) Store(id string, tx *sstv.Transmission) (string, error) {
	if a == nil {
		return "", nil
	}

	path := a.Filename(id, tx.Mode)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to create archive file: %w", err)
	}

	if err := a.write(f, tx); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to close archive file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to move archive file into place: %w", err)
	}

	if DebugMode {
		log.Printf("[Archive] Stored %s (%d samples)", path, len(tx.PCM))
	}
	return path, nil
}

func (a *Archive) write(f *os.File, tx *sstv.Transmission) error {
	if !a.compress {
		return tx.WriteWAV(f)
	}

	bw := bufio.NewWriter(f)
	enc, err := zstd.NewWriter(bw, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	if err := tx.WriteWAV(enc); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finish zstd stream: %w", err)
	}
	return bw.Flush()
}

// Load reads an archived transmission back as PCM
func (a *Archive) Load(path string) ([]int16, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open archive file: %w", err)
	}
	defer f.Close()

	if filepath.Ext(path) != ".zst" {
		return sstv.ReadWAV(bufio.NewReader(f))
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()
	return sstv.ReadWAV(dec)
}
