package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// ErrTransmitterBusy is returned when a keyed transmission is already running
var ErrTransmitterBusy = errors.New("transmitter busy")

// PTT keys and releases a transmitter
type PTT interface {
	Key() error
	Release() error
	Close() error
}

// noopPTT is used when no keying hardware is configured
type noopPTT struct{}

func (noopPTT) Key() error     { return nil }
func (noopPTT) Release() error { return nil }
func (noopPTT) Close() error   { return nil }

// controlLines is the part of serial.Port used for keying
type controlLines interface {
	SetRTS(rts bool) error
	SetDTR(dtr bool) error
	Close() error
}

// SerialPTT keys a transmitter through the RTS or DTR line of a serial port
type SerialPTT struct {
	port string
	line string // rts or dtr
	conn controlLines
	mu   sync.Mutex
}

// NewPTT opens the configured keying interface
func NewPTT(config PTTConfig) (PTT, error) {
	if !config.Enabled {
		return noopPTT{}, nil
	}

	mode := &serial.Mode{
		BaudRate: config.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(config.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", config.Port, err)
	}

	p, err := newSerialPTT(config.Port, config.Line, port)
	if err != nil {
		port.Close()
		return nil, err
	}

	log.Printf("[PTT] Keying via %s on %s", strings.ToUpper(p.line), config.Port)
	return p, nil
}

func newSerialPTT(port, line string, conn controlLines) (*SerialPTT, error) {
	line = strings.ToLower(line)
	if line != "rts" && line != "dtr" {
		return nil, fmt.Errorf("unknown PTT line %q", line)
	}

	p := &SerialPTT{port: port, line: line, conn: conn}

	// Some adapters power up with both lines asserted
	if err := p.set(false); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *SerialPTT) set(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.line == "dtr" {
		err = p.conn.SetDTR(on)
	} else {
		err = p.conn.SetRTS(on)
	}
	if err != nil {
		return fmt.Errorf("failed to set %s on %s: %w", p.line, p.port, err)
	}
	return nil
}

// Key asserts the PTT line
func (p *SerialPTT) Key() error { return p.set(true) }

// Release drops the PTT line
func (p *SerialPTT) Release() error { return p.set(false) }

// Close releases the line and closes the port
func (p *SerialPTT) Close() error {
	relErr := p.Release()
	if err := p.conn.Close(); err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return relErr
}

// TransmitGate serialises keyed transmissions: only one may hold the
// transmitter at a time, and each is wrapped in lead and tail time
type TransmitGate struct {
	ptt     PTT
	lead    time.Duration
	tail    time.Duration
	metrics *PrometheusMetrics

	mu   sync.Mutex
	busy bool
}

// NewTransmitGate wraps ptt with the configured lead and tail times
func NewTransmitGate(ptt PTT, config PTTConfig, metrics *PrometheusMetrics) *TransmitGate {
	g := &TransmitGate{
		ptt:     ptt,
		metrics: metrics,
	}
	if config.Enabled {
		g.lead = time.Duration(config.LeadMs) * time.Millisecond
		g.tail = time.Duration(config.TailMs) * time.Millisecond
	}
	return g
}

// Lead returns the delay between keying and the start of audio
func (g *TransmitGate) Lead() time.Duration {
	return g.lead
}

// Busy reports whether a transmission holds the gate
func (g *TransmitGate) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy
}

func (g *TransmitGate) acquire() error {
	g.mu.Lock()
	if g.busy {
		g.mu.Unlock()
		return ErrTransmitterBusy
	}
	g.busy = true
	g.mu.Unlock()

	if err := g.ptt.Key(); err != nil {
		g.mu.Lock()
		g.busy = false
		g.mu.Unlock()
		return fmt.Errorf("failed to key transmitter: %w", err)
	}
	g.metrics.SetTransmitting(true)
	return nil
}

func (g *TransmitGate) release() {
	if err := g.ptt.Release(); err != nil {
		log.Printf("[PTT] ERROR: %v", err)
	}
	g.metrics.SetTransmitting(false)

	g.mu.Lock()
	g.busy = false
	g.mu.Unlock()
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run keys the transmitter, waits the lead time, runs send, waits the tail
// time and releases. The transmitter is released even if send fails.
func (g *TransmitGate) Run(ctx context.Context, send func(context.Context) error) error {
	if err := g.acquire(); err != nil {
		return err
	}
	return g.run(ctx, send)
}

// Start acquires the transmitter and runs send in the background as Run
// does, passing its result to done
func (g *TransmitGate) Start(ctx context.Context, send func(context.Context) error, done func(error)) error {
	if err := g.acquire(); err != nil {
		return err
	}
	go func() {
		err := g.run(ctx, send)
		if done != nil {
			done(err)
		}
	}()
	return nil
}

func (g *TransmitGate) run(ctx context.Context, send func(context.Context) error) error {
	defer g.release()

	if err := sleep(ctx, g.lead); err != nil {
		return err
	}
	if err := send(ctx); err != nil {
		return err
	}
	// Tail is skipped on cancellation, the release still happens
	sleep(ctx, g.tail)
	return nil
}

// HoldFor keys the transmitter for audio that a remote client plays lead
// from now, releasing after the audio and tail time or when ctx is done
func (g *TransmitGate) HoldFor(ctx context.Context, audio time.Duration) error {
	if err := g.acquire(); err != nil {
		return err
	}

	go func() {
		defer g.release()
		sleep(ctx, g.lead+audio+g.tail)
	}()
	return nil
}
