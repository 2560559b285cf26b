package sstv

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// WAVFilename is the conventional name of a rendered transmission
	WAVFilename = "sstv_signal.wav"
	// WAVMimeType is the media type of WriteWAV output
	WAVMimeType = "audio/wav"
	// WAVHeaderSize is the size of the canonical PCM header
	WAVHeaderSize = 44
)

// WAVHeader is the canonical 44-byte RIFF/WAVE header for PCM data
type WAVHeader struct {
	// RIFF chunk
	ChunkID   [4]byte // "RIFF"
	ChunkSize uint32  // File size - 8
	Format    [4]byte // "WAVE"

	// fmt sub-chunk
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample/8
	BlockAlign    uint16 // NumChannels * BitsPerSample/8
	BitsPerSample uint16

	// data sub-chunk
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // NumSamples * NumChannels * BitsPerSample/8
}

// NewWAVHeader returns the header for numSamples of 16-bit mono PCM
func NewWAVHeader(numSamples, sampleRate int) WAVHeader {
	dataSize := uint32(numSamples * 2)
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * 2),
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// WriteWAV writes pcm as a complete 16-bit mono WAV stream
func WriteWAV(w io.Writer, pcm []int16, sampleRate int) error {
	bw := bufio.NewWriter(w)

	header := NewWAVHeader(len(pcm), sampleRate)
	if err := binary.Write(bw, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}
	if err := binary.Write(bw, binary.LittleEndian, pcm); err != nil {
		return fmt.Errorf("failed to write WAV samples: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAV data: %w", err)
	}
	return nil
}

// ReadWAV reads a 16-bit mono PCM stream in the layout WriteWAV produces
func ReadWAV(r io.Reader) ([]int16, int, error) {
	var header WAVHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, 0, fmt.Errorf("failed to read WAV header: %w", err)
	}
	if string(header.ChunkID[:]) != "RIFF" || string(header.Format[:]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a RIFF/WAVE stream")
	}
	if header.AudioFormat != 1 || header.NumChannels != 1 || header.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported WAV format: format=%d channels=%d bits=%d",
			header.AudioFormat, header.NumChannels, header.BitsPerSample)
	}
	if string(header.Subchunk2ID[:]) != "data" {
		return nil, 0, fmt.Errorf("expected data chunk, got %q", header.Subchunk2ID[:])
	}

	pcm := make([]int16, header.Subchunk2Size/2)
	if err := binary.Read(r, binary.LittleEndian, pcm); err != nil {
		return nil, 0, fmt.Errorf("failed to read WAV samples: %w", err)
	}
	return pcm, int(header.SampleRate), nil
}

// Transmission is a fully rendered file target
type Transmission struct {
	Mode       Mode
	Sequence   Sequence
	PCM        []int16
	SampleRate int
}

// EncodeFile encodes pix with mode and renders the result to PCM
func EncodeFile(mode Mode, pix []byte, opts RenderOptions) (*Transmission, error) {
	seq, err := Encode(mode, pix)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	pcm, err := Render(seq, opts)
	if err != nil {
		return nil, err
	}
	return &Transmission{
		Mode:       mode,
		Sequence:   seq,
		PCM:        pcm,
		SampleRate: opts.SampleRate,
	}, nil
}

// Duration returns the transmission length in seconds
func (t *Transmission) Duration() float64 {
	return t.Sequence.Duration()
}

// WriteWAV writes the rendered transmission as a WAV stream
func (t *Transmission) WriteWAV(w io.Writer) error {
	return WriteWAV(w, t.PCM, t.SampleRate)
}

// WAVSize returns the number of bytes WriteWAV produces
func (t *Transmission) WAVSize() int {
	return WAVHeaderSize + 2*len(t.PCM)
}
