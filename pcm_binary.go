package main

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Binary PCM Packet Format
// ========================
//
// Rendered transmissions streamed over the transmit websocket ("pcm" target)
// are split into binary messages. The first message carries a full header,
// later ones a minimal header, so the client learns the sample rate once.
//
// FULL HEADER FORMAT (29 bytes):
// ------------------------------
// Offset | Size | Type    | Description
// -------|------|---------|--------------------------------------------------
// 0      | 2    | uint16  | Magic bytes: 0x5043 ("PC")
// 2      | 1    | uint8   | Version: 1
// 3      | 1    | uint8   | Format type: 0=PCM, 2=PCM-zstd
// 4      | 8    | uint64  | Sample offset of the first sample in this packet
// 12     | 8    | uint64  | Wall clock time in milliseconds
// 20     | 4    | uint32  | Sample rate in Hz
// 24     | 1    | uint8   | Number of channels (always 1)
// 25     | 4    | uint32  | Total samples in the transmission
// 29     | N    | []byte  | PCM audio data (little-endian int16 samples)
//
// MINIMAL HEADER FORMAT (13 bytes):
// ---------------------------------
// 0      | 2    | uint16  | Magic bytes: 0x504D ("PM")
// 2      | 1    | uint8   | Version: 1
// 3      | 8    | uint64  | Sample offset
// 11     | 2    | uint16  | Reserved
// 13     | N    | []byte  | PCM audio data
//
// All integers are little-endian. When format type is 2 the whole packet
// (header + data) is compressed with zstd; clients decompress first.

const (
	PCMBinaryMagicFull    uint16 = 0x5043 // "PC" - Full header packet
	PCMBinaryMagicMinimal uint16 = 0x504D // "PM" - Minimal header packet

	PCMBinaryVersion uint8 = 1

	PCMFormatUncompressed uint8 = 0
	PCMFormatZstd         uint8 = 2

	PCMFullHeaderSize    = 29
	PCMMinimalHeaderSize = 13
)

// zstdEncoderPool provides reusable zstd encoders
var zstdEncoderPool = sync.Pool{
	New: func() interface{} {
		encoder, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		return encoder
	},
}

// PCMBinaryEncoder splits one transmission into binary websocket packets
type PCMBinaryEncoder struct {
	useCompression bool
	zstdEncoder    *zstd.Encoder
	sampleRate     int
	totalSamples   int
	packetCount    uint64
}

// NewPCMBinaryEncoder creates an encoder for a transmission of totalSamples
// at sampleRate
func NewPCMBinaryEncoder(useCompression bool, sampleRate, totalSamples int) *PCMBinaryEncoder {
	encoder := &PCMBinaryEncoder{
		useCompression: useCompression,
		sampleRate:     sampleRate,
		totalSamples:   totalSamples,
	}
	if useCompression {
		encoder.zstdEncoder = zstdEncoderPool.Get().(*zstd.Encoder)
	}
	return encoder
}

// EncodePacket encodes samples starting at sample offset. The first call
// produces a full header packet.
func (e *PCMBinaryEncoder) EncodePacket(samples []int16, offset uint64) []byte {
	var packet []byte
	if e.packetCount == 0 {
		packet = e.buildFullHeaderPacket(samples, offset)
	} else {
		packet = e.buildMinimalHeaderPacket(samples, offset)
	}
	e.packetCount++

	if e.useCompression && e.zstdEncoder != nil {
		return e.zstdEncoder.EncodeAll(packet, make([]byte, 0, len(packet)/2))
	}
	return packet
}

func putSamples(dst []byte, samples []int16) {
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(s))
	}
}

func (e *PCMBinaryEncoder) buildFullHeaderPacket(samples []int16, offset uint64) []byte {
	packet := make([]byte, PCMFullHeaderSize+2*len(samples))

	binary.LittleEndian.PutUint16(packet[0:], PCMBinaryMagicFull)
	packet[2] = PCMBinaryVersion
	if e.useCompression {
		packet[3] = PCMFormatZstd
	} else {
		packet[3] = PCMFormatUncompressed
	}
	binary.LittleEndian.PutUint64(packet[4:], offset)
	binary.LittleEndian.PutUint64(packet[12:], uint64(time.Now().UnixMilli()))
	binary.LittleEndian.PutUint32(packet[20:], uint32(e.sampleRate))
	packet[24] = 1
	binary.LittleEndian.PutUint32(packet[25:], uint32(e.totalSamples))

	putSamples(packet[PCMFullHeaderSize:], samples)
	return packet
}

func (e *PCMBinaryEncoder) buildMinimalHeaderPacket(samples []int16, offset uint64) []byte {
	packet := make([]byte, PCMMinimalHeaderSize+2*len(samples))

	binary.LittleEndian.PutUint16(packet[0:], PCMBinaryMagicMinimal)
	packet[2] = PCMBinaryVersion
	binary.LittleEndian.PutUint64(packet[3:], offset)
	binary.LittleEndian.PutUint16(packet[11:], 0)

	putSamples(packet[PCMMinimalHeaderSize:], samples)
	return packet
}

// Close returns the zstd encoder to the pool
func (e *PCMBinaryEncoder) Close() {
	if e.zstdEncoder != nil {
		zstdEncoderPool.Put(e.zstdEncoder)
		e.zstdEncoder = nil
	}
}
