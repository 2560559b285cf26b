package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"strings"
	"time"

	"github.com/cwsl/sstv_encoder/sstv"
	"github.com/google/uuid"
)

// Output targets recorded with every transmission
const (
	TargetFile = "file" // WAV download or CLI output
	TargetLive = "live" // set-point schedule for a browser oscillator
	TargetPCM  = "pcm"  // rendered samples over the transmit websocket
	TargetRTP  = "rtp"  // rendered samples streamed to the RTP sink
)

// ErrRTPDisabled is returned for RTP transmissions when no sink is configured
var ErrRTPDisabled = errors.New("rtp output not configured")

// EncodeRequest is one image submitted for transmission
type EncodeRequest struct {
	Mode      string    // selector code, required
	Image     io.Reader // encoded picture, nil when none was uploaded
	Callsign  string    // overrides the configured overlay text
	ClientIP  string
	UserAgent string
}

// TransmitterServices are the optional collaborators of a Transmitter; any
// of them may be nil
type TransmitterServices struct {
	Archive *Archive
	History *TransmissionLog
	Metrics *PrometheusMetrics
	MQTT    *MQTTPublisher
	GeoIP   *GeoIPService
	Gate    *TransmitGate
	RTP     *RTPSender
}

// Transmitter turns uploaded images into SSTV transmissions for every
// output target and records what it produced
type Transmitter struct {
	config *Config
	sem    chan struct{}
	TransmitterServices
}

// NewTransmitter creates a transmitter limited to config.Encoder.MaxConcurrent
// simultaneous encodes
func NewTransmitter(config *Config, services TransmitterServices) *Transmitter {
	return &Transmitter{
		config:              config,
		sem:                 make(chan struct{}, max(1, config.Encoder.MaxConcurrent)),
		TransmitterServices: services,
	}
}

// encoded is an image turned into a segment sequence
type encoded struct {
	mode     sstv.Mode
	seq      sstv.Sequence
	callsign string
	elapsed  time.Duration
}

// resolveMode looks up the requested mode. A request without one is
// rejected; the configured default only preselects a mode in clients.
func (t *Transmitter) resolveMode(code string) (sstv.Mode, error) {
	return sstv.Lookup(code)
}

// renderOptions returns the configured PCM rendering settings
func (t *Transmitter) renderOptions() sstv.RenderOptions {
	return sstv.RenderOptions{
		SampleRate: t.config.Encoder.SampleRate,
		Amplitude:  t.config.Encoder.Amplitude,
	}
}

func (t *Transmitter) encode(ctx context.Context, req EncodeRequest) (*encoded, error) {
	mode, err := t.resolveMode(req.Mode)
	if err != nil {
		return nil, err
	}
	if req.Image == nil {
		return nil, sstv.ErrMissingInput
	}

	img, format, err := LoadImage(req.Image)
	if err != nil {
		return nil, err
	}
	return t.encodeImage(ctx, mode, img, format, req.Callsign)
}

func (t *Transmitter) encodeImage(ctx context.Context, mode sstv.Mode, img image.Image, format, callsign string) (*encoded, error) {
	select {
	case t.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-t.sem }()

	started := time.Now()
	opts := t.config.Image.frameOptions(callsign)
	frame, err := PrepareFrame(img, mode, opts)
	if err != nil {
		return nil, err
	}

	seq, err := sstv.Encode(mode, frame.Pix)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", mode.ShortName, err)
	}

	if DebugMode {
		b := img.Bounds()
		log.Printf("DEBUG: [Encoder] %s %dx%d -> %s, %d segments", format, b.Dx(), b.Dy(), mode.ShortName, len(seq))
	}

	return &encoded{
		mode:     mode,
		seq:      seq,
		callsign: strings.TrimSpace(opts.Callsign),
		elapsed:  time.Since(started),
	}, nil
}

// render turns an encoded sequence into PCM
func (t *Transmitter) render(enc *encoded) (*sstv.Transmission, error) {
	opts := t.renderOptions()
	pcm, err := sstv.Render(enc.seq, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", enc.mode.ShortName, err)
	}
	return &sstv.Transmission{
		Mode:       enc.mode,
		Sequence:   enc.seq,
		PCM:        pcm,
		SampleRate: opts.SampleRate,
	}, nil
}

// EncodeFile produces a complete WAV-ready transmission
func (t *Transmitter) EncodeFile(ctx context.Context, req EncodeRequest) (*sstv.Transmission, TransmissionRecord, error) {
	tx, enc, err := t.encodeRendered(ctx, req)
	if err != nil {
		return nil, TransmissionRecord{}, err
	}

	record := t.newRecord(enc, TargetFile, req)
	record.Samples = len(tx.PCM)

	key, err := t.Archive.Store(record.ID, tx)
	if err != nil {
		// The caller still gets its file
		log.Printf("[Archive] ERROR: %v", err)
	}
	record.ArchiveKey = key

	t.finish(record, enc)
	return tx, record, nil
}

// encodeRendered encodes and renders req, timing both
func (t *Transmitter) encodeRendered(ctx context.Context, req EncodeRequest) (*sstv.Transmission, *encoded, error) {
	enc, err := t.encode(ctx, req)
	if err != nil {
		t.recordError(err)
		return nil, nil, err
	}

	started := time.Now()
	tx, err := t.render(enc)
	if err != nil {
		t.recordError(err)
		return nil, nil, err
	}
	enc.elapsed += time.Since(started)
	return tx, enc, nil
}

// LivePlan is a set-point schedule for a remote oscillator
type LivePlan struct {
	Record TransmissionRecord
	Mode   sstv.Mode
	Points []sstv.SetPoint
	Start  float64 // time of the first set-point, including PTT lead
	End    float64
	Lead   time.Duration
}

// PlanLive schedules req for an oscillator whose clock reads start now. When
// PTT keying is enabled the transmitter is held for the whole schedule until
// ctx is done, and the schedule is delayed by the lead time.
func (t *Transmitter) PlanLive(ctx context.Context, req EncodeRequest, start float64) (*LivePlan, error) {
	enc, err := t.encode(ctx, req)
	if err != nil {
		t.recordError(err)
		return nil, err
	}

	var lead time.Duration
	if t.Gate != nil && t.config.PTT.Enabled {
		lead = t.Gate.Lead()
		if err := t.Gate.HoldFor(ctx, secondsToDuration(enc.seq.Duration())); err != nil {
			t.recordError(err)
			return nil, err
		}
	}

	begin := start + lead.Seconds()
	points, end := sstv.SetPoints(enc.seq, begin)

	record := t.newRecord(enc, TargetLive, req)
	t.finish(record, enc)

	return &LivePlan{
		Record: record,
		Mode:   enc.mode,
		Points: points,
		Start:  begin,
		End:    end,
		Lead:   lead,
	}, nil
}

// RenderPCM renders req for streaming over a websocket
func (t *Transmitter) RenderPCM(ctx context.Context, req EncodeRequest) (*sstv.Transmission, TransmissionRecord, error) {
	tx, enc, err := t.encodeRendered(ctx, req)
	if err != nil {
		return nil, TransmissionRecord{}, err
	}
	record := t.newRecord(enc, TargetPCM, req)
	record.Samples = len(tx.PCM)
	t.finish(record, enc)
	return tx, record, nil
}

// TransmitRTP renders req and streams it to the RTP sink in the background.
// It returns ErrTransmitterBusy when another keyed transmission is running.
func (t *Transmitter) TransmitRTP(req EncodeRequest) (TransmissionRecord, error) {
	if t.RTP == nil || t.Gate == nil {
		return TransmissionRecord{}, ErrRTPDisabled
	}
	if t.Gate.Busy() {
		t.recordError(ErrTransmitterBusy)
		return TransmissionRecord{}, ErrTransmitterBusy
	}

	tx, enc, err := t.encodeRendered(context.Background(), req)
	if err != nil {
		return TransmissionRecord{}, err
	}
	record := t.newRecord(enc, TargetRTP, req)
	record.Samples = len(tx.PCM)

	// Bounded so a stalled socket cannot hold the transmitter forever
	timeout := secondsToDuration(tx.Duration()) + t.Gate.lead + t.Gate.tail + 30*time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	send := func(ctx context.Context) error {
		return t.RTP.Send(ctx, tx.PCM)
	}
	done := func(err error) {
		cancel()
		if err != nil {
			log.Printf("[RTP] ERROR: transmission %s failed: %v", record.ID, err)
			return
		}
		log.Printf("[RTP] Transmission %s complete", record.ID)
	}

	if err := t.Gate.Start(ctx, send, done); err != nil {
		cancel()
		t.recordError(err)
		return TransmissionRecord{}, err
	}

	t.finish(record, enc)
	return record, nil
}

func (t *Transmitter) newRecord(enc *encoded, target string, req EncodeRequest) TransmissionRecord {
	return TransmissionRecord{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Mode:      enc.mode.ShortName,
		VIS:       fmt.Sprintf("0x%02X", enc.mode.VISCode()),
		Target:    target,
		Duration:  enc.seq.Duration(),
		Callsign:  enc.callsign,
		ClientIP:  req.ClientIP,
		Country:   t.GeoIP.lookupCountry(req.ClientIP),
		Client:    describeClient(req.UserAgent),
		EncodeMs:  float64(enc.elapsed.Microseconds()) / 1000,
	}
}

// finish records a successful transmission everywhere it is reported
func (t *Transmitter) finish(record TransmissionRecord, enc *encoded) {
	if t.History != nil {
		t.History.Add(record)
	}
	t.Metrics.RecordEncode(record.Mode, record.Target, enc.elapsed, record.Duration)
	t.MQTT.PublishTransmission(record)

	log.Printf("[Encoder] %s %s (%s) %.3fs audio, encoded in %.1fms, client %s",
		record.ID, record.Mode, record.Target, record.Duration, record.EncodeMs, record.ClientIP)
}

func (t *Transmitter) recordError(err error) {
	t.Metrics.RecordEncodeError(errorReason(err))
}

// errorReason maps an encode failure onto a metric label
func errorReason(err error) string {
	switch {
	case errors.Is(err, sstv.ErrUnconfiguredMode):
		return "no_mode"
	case errors.Is(err, sstv.ErrUnknownMode):
		return "unknown_mode"
	case errors.Is(err, sstv.ErrMissingInput):
		return "no_image"
	case errors.Is(err, ErrImageDecode):
		return "bad_image"
	case errors.Is(err, ErrTransmitterBusy):
		return "busy"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "internal"
}

// userMessage is the client-facing text for an encode failure
func userMessage(err error) string {
	switch {
	case errors.Is(err, sstv.ErrUnconfiguredMode):
		return "You must select a mode"
	case errors.Is(err, sstv.ErrMissingInput):
		return "You must upload an image"
	case errors.Is(err, sstv.ErrUnknownMode):
		return err.Error()
	case errors.Is(err, image.ErrFormat):
		return "Unsupported image format"
	case errors.Is(err, ErrImageDecode):
		return "Could not read the uploaded image"
	case errors.Is(err, ErrTransmitterBusy):
		return "Transmitter is busy"
	case errors.Is(err, ErrRTPDisabled):
		return "RTP output is not configured"
	}
	return "Encoding failed"
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
