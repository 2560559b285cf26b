package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-test/deep"
)

// fakeLines records control line changes
type fakeLines struct {
	mu     sync.Mutex
	events []string
	closed bool
}

func (f *fakeLines) record(e string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeLines) SetRTS(on bool) error {
	if on {
		f.record("rts+")
	} else {
		f.record("rts-")
	}
	return nil
}

func (f *fakeLines) SetDTR(on bool) error {
	if on {
		f.record("dtr+")
	} else {
		f.record("dtr-")
	}
	return nil
}

func (f *fakeLines) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeLines) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func TestSerialPTT(t *testing.T) {
	lines := &fakeLines{}
	p, err := newSerialPTT("/dev/ttyTEST", "DTR", lines)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Key(); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	if diff := deep.Equal(lines.snapshot(), []string{"dtr-", "dtr+", "dtr-"}); diff != nil {
		t.Error(diff)
	}
	if !lines.closed {
		t.Error("port not closed")
	}

	if _, err := newSerialPTT("/dev/ttyTEST", "cts", &fakeLines{}); err == nil {
		t.Error("unknown line accepted")
	}
}

func TestNewPTTDisabled(t *testing.T) {
	p, err := NewPTT(PTTConfig{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(noopPTT); !ok {
		t.Errorf("disabled PTT is %T", p)
	}
}

func TestTransmitGateRun(t *testing.T) {
	lines := &fakeLines{}
	p, err := newSerialPTT("/dev/ttyTEST", "rts", lines)
	if err != nil {
		t.Fatal(err)
	}
	gate := NewTransmitGate(p, PTTConfig{Enabled: true, LeadMs: 5, TailMs: 5}, newTestMetrics())

	if gate.Lead() != 5*time.Millisecond {
		t.Errorf("Lead = %v", gate.Lead())
	}

	started := make(chan struct{})
	finish := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- gate.Run(context.Background(), func(ctx context.Context) error {
			close(started)
			<-finish
			return nil
		})
	}()

	<-started
	if !gate.Busy() {
		t.Error("gate not busy while sending")
	}
	if err := gate.Run(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrTransmitterBusy) {
		t.Errorf("second Run = %v, want ErrTransmitterBusy", err)
	}

	close(finish)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gate.Busy() {
		t.Error("gate still busy")
	}
	if diff := deep.Equal(lines.snapshot(), []string{"rts-", "rts+", "rts-"}); diff != nil {
		t.Error(diff)
	}
}

func TestTransmitGateSendError(t *testing.T) {
	gate := NewTransmitGate(noopPTT{}, PTTConfig{}, nil)
	boom := errors.New("boom")
	if err := gate.Run(context.Background(), func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("Run = %v", err)
	}
	if gate.Busy() {
		t.Error("gate busy after failed send")
	}
}

func TestTransmitGateHoldFor(t *testing.T) {
	gate := NewTransmitGate(noopPTT{}, PTTConfig{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := gate.HoldFor(ctx, time.Hour); err != nil {
		t.Fatal(err)
	}
	if !gate.Busy() {
		t.Fatal("gate not held")
	}
	if err := gate.HoldFor(context.Background(), time.Second); !errors.Is(err, ErrTransmitterBusy) {
		t.Errorf("second HoldFor = %v", err)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for gate.Busy() {
		if time.Now().After(deadline) {
			t.Fatal("gate not released after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTransmitGateStart(t *testing.T) {
	gate := NewTransmitGate(noopPTT{}, PTTConfig{}, nil)
	result := make(chan error, 1)

	err := gate.Start(context.Background(), func(context.Context) error { return nil }, func(err error) { result <- err })
	if err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-result:
		if err != nil {
			t.Errorf("send result %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("done not called")
	}
}
