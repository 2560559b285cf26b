package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
	"golang.org/x/net/ipv4"
)

// rtpHeaderSize is the fixed RTP header without CSRCs or extensions
const rtpHeaderSize = 12

// RTPSender streams rendered transmissions as RTP L16 mono audio, paced in
// real time, to a unicast or multicast sink
type RTPSender struct {
	conn          *net.UDPConn
	dest          *net.UDPAddr
	payloadType   uint8
	ssrc          uint32
	sampleRate    int
	packetSamples int

	mu        sync.Mutex
	seq       uint16
	timestamp uint32
}

// NewRTPSender opens the UDP socket for config.Destination
func NewRTPSender(config RTPConfig, sampleRate int) (*RTPSender, error) {
	dest, err := net.ResolveUDPAddr("udp4", config.Destination)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve rtp destination %s: %w", config.Destination, err)
	}

	conn, err := net.DialUDP("udp4", nil, dest)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rtp destination: %w", err)
	}

	if dest.IP.IsMulticast() {
		p := ipv4.NewPacketConn(conn)
		if err := p.SetMulticastTTL(config.TTL); err != nil {
			log.Printf("[RTP] Warning: failed to set multicast TTL: %v", err)
		}
		if config.Interface != "" {
			iface, err := net.InterfaceByName(config.Interface)
			if err != nil {
				conn.Close()
				return nil, fmt.Errorf("failed to find interface %s: %w", config.Interface, err)
			}
			if err := p.SetMulticastInterface(iface); err != nil {
				conn.Close()
				return nil, fmt.Errorf("failed to set multicast interface %s: %w", config.Interface, err)
			}
		}
		// Local listeners on the same host should hear the stream
		if err := p.SetMulticastLoopback(true); err != nil && DebugMode {
			log.Printf("DEBUG: [RTP] failed to enable multicast loopback: %v", err)
		}
	}

	packetMs := config.PacketMs
	if packetMs <= 0 {
		packetMs = 20
	}

	s := &RTPSender{
		conn:          conn,
		dest:          dest,
		payloadType:   config.PayloadType,
		ssrc:          config.SSRC,
		sampleRate:    sampleRate,
		packetSamples: max(1, sampleRate*packetMs/1000),
	}
	if s.ssrc == 0 {
		s.ssrc = randomUint32()
	}
	s.seq = uint16(randomUint32())
	s.timestamp = randomUint32()

	log.Printf("[RTP] Sending to %s (PT %d, SSRC %08x, %d samples/packet)",
		dest, s.payloadType, s.ssrc, s.packetSamples)
	return s, nil
}

func randomUint32() uint32 {
	var b [4]byte
	rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

// Send streams pcm, one packet per packetSamples, until done or ctx is
// cancelled. The first packet of a transmission carries the marker bit.
func (s *RTPSender) Send(ctx context.Context, pcm []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	interval := time.Duration(s.packetSamples) * time.Second / time.Duration(s.sampleRate)
	buf := make([]byte, rtpHeaderSize+2*s.packetSamples)
	start := time.Now()

	for i, n := 0, 0; i < len(pcm); i, n = i+s.packetSamples, n+1 {
		end := min(i+s.packetSamples, len(pcm))
		chunk := pcm[i:end]

		// L16 is network byte order
		payload := make([]byte, 2*len(chunk))
		for j, v := range chunk {
			binary.BigEndian.PutUint16(payload[2*j:], uint16(v))
		}

		packet := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == 0,
				PayloadType:    s.payloadType,
				SequenceNumber: s.seq,
				Timestamp:      s.timestamp,
				SSRC:           s.ssrc,
			},
			Payload: payload,
		}

		size, err := packet.MarshalTo(buf)
		if err != nil {
			return fmt.Errorf("failed to marshal rtp packet: %w", err)
		}
		if _, err := s.conn.Write(buf[:size]); err != nil {
			return fmt.Errorf("failed to send rtp packet: %w", err)
		}

		s.seq++
		s.timestamp += uint32(len(chunk))

		// Pace against the start time so scheduling jitter does not accumulate
		if err := sleep(ctx, time.Until(start.Add(time.Duration(n+1)*interval))); err != nil {
			return err
		}
	}
	return nil
}

// Destination returns the resolved sink address
func (s *RTPSender) Destination() string {
	return s.dest.String()
}

// Close closes the UDP socket
func (s *RTPSender) Close() error {
	return s.conn.Close()
}
