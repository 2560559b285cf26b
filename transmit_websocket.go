package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cwsl/sstv_encoder/sstv"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-version"
)

// ProtocolVersion is the transmit socket protocol this server speaks
const ProtocolVersion = "1.0"

// supportedProtocols are the client protocol versions accepted
const supportedProtocols = ">= 1.0, < 2.0"

// pcmPacketSamples is the number of samples per binary PCM message
const pcmPacketSamples = 4096

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 65536,
	// Set-point batches are small JSON, PCM is optionally zstd compressed
	EnableCompression: false,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins; CORS is handled by the HTTP middleware
		return true
	},
}

// wsConn wraps a WebSocket connection with a write mutex to prevent concurrent writes
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	metrics *PrometheusMetrics
}

func (wc *wsConn) writeJSON(msgType string, v interface{}) error {
	wc.writeMu.Lock()
	defer wc.writeMu.Unlock()

	jsonData, err := json.Marshal(v)
	if err != nil {
		return err
	}

	wc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := wc.conn.WriteMessage(websocket.TextMessage, jsonData); err != nil {
		return err
	}
	wc.metrics.RecordWSMessageSent(msgType)
	return nil
}

func (wc *wsConn) writeBinary(packet []byte) error {
	wc.writeMu.Lock()
	defer wc.writeMu.Unlock()

	wc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := wc.conn.WriteMessage(websocket.BinaryMessage, packet); err != nil {
		return err
	}
	wc.metrics.RecordWSMessageSent("pcm")
	return nil
}

func (wc *wsConn) writeError(message string) error {
	return wc.writeJSON("error", map[string]string{
		"type":    "error",
		"message": message,
	})
}

// transmitMessage is a client request on the transmit socket
type transmitMessage struct {
	Type     string  `json:"type"`     // transmit or ping
	Mode     string  `json:"mode"`     // selector code
	Image    string  `json:"image"`    // base64 picture, data URLs accepted
	Protocol string  `json:"protocol"` // client protocol version
	Start    float64 `json:"start"`    // client oscillator clock when the schedule may begin
	Callsign string  `json:"callsign"` // overlay text override
	Target   string  `json:"target"`   // points (default) or pcm
	Compress bool    `json:"compress"` // zstd compress PCM packets
}

// scheduleMessage announces a live schedule before its set-points
type scheduleMessage struct {
	Type     string  `json:"type"`
	ID       string  `json:"id"`
	Mode     string  `json:"mode"`
	VIS      string  `json:"vis"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
	LeadMs   int64   `json:"lead_ms"`
	Points   int     `json:"points"`
}

type pointsMessage struct {
	Type   string          `json:"type"`
	Points []sstv.SetPoint `json:"points"`
}

// pcmStartMessage announces the binary PCM packets that follow
type pcmStartMessage struct {
	Type       string  `json:"type"`
	ID         string  `json:"id"`
	Mode       string  `json:"mode"`
	VIS        string  `json:"vis"`
	SampleRate int     `json:"sample_rate"`
	Samples    int     `json:"samples"`
	Duration   float64 `json:"duration"`
	Compressed bool    `json:"compressed"`
}

type completeMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// TransmitWebSocketHandler streams live schedules and rendered PCM to
// browser clients
type TransmitWebSocketHandler struct {
	config      *Config
	transmitter *Transmitter
	metrics     *PrometheusMetrics
	limiter     *IPRateLimiter
	protocols   version.Constraints
}

// NewTransmitWebSocketHandler creates the /ws/transmit handler
func NewTransmitWebSocketHandler(config *Config, transmitter *Transmitter, limiter *IPRateLimiter) *TransmitWebSocketHandler {
	return &TransmitWebSocketHandler{
		config:      config,
		transmitter: transmitter,
		metrics:     transmitter.Metrics,
		limiter:     limiter,
		protocols:   mustConstraint(supportedProtocols),
	}
}

// mustConstraint parses a constant version constraint, panicking if it is
// malformed
func mustConstraint(c string) version.Constraints {
	constraints, err := version.NewConstraint(c)
	if err != nil {
		panic(fmt.Sprintf("invalid version constraint %q: %v", c, err))
	}
	return constraints
}

// checkProtocol accepts an empty version as the current one
func (h *TransmitWebSocketHandler) checkProtocol(v string) error {
	if strings.TrimSpace(v) == "" {
		v = ProtocolVersion
	}
	clientVersion, err := version.NewVersion(v)
	if err != nil {
		return fmt.Errorf("invalid protocol version %q", v)
	}
	if !h.protocols.Check(clientVersion) {
		return fmt.Errorf("unsupported protocol version %s (server speaks %s)", v, ProtocolVersion)
	}
	return nil
}

// HandleWebSocket upgrades the request and serves transmit requests until the
// client disconnects
func (h *TransmitWebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientIP := getClientIP(r)
	if !h.limiter.AllowRequest(clientIP) {
		h.metrics.RecordRateLimited()
		writeJSONError(w, http.StatusTooManyRequests, "Rate limit exceeded, try again later")
		return
	}

	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Transmit WS] Failed to upgrade connection: %v", err)
		return
	}
	defer rawConn.Close()

	// Base64 inflates uploads by a third
	rawConn.SetReadLimit(h.config.Server.MaxUploadBytes*4/3 + 4096)

	conn := &wsConn{conn: rawConn, metrics: h.metrics}
	h.metrics.RecordWSConnection()
	defer h.metrics.RecordWSDisconnect()

	// Cancelled when the client goes away, releasing any keyed transmitter
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if DebugMode {
		log.Printf("DEBUG: [Transmit WS] %s connected", clientIP)
	}

	userAgent := r.UserAgent()
	for {
		var msg transmitMessage
		if err := rawConn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[Transmit WS] Read error from %s: %v", clientIP, err)
			}
			return
		}

		switch msg.Type {
		case "ping":
			if err := conn.writeJSON("pong", map[string]string{"type": "pong"}); err != nil {
				return
			}
		case "transmit":
			if err := h.handleTransmit(ctx, conn, msg, clientIP, userAgent); err != nil {
				log.Printf("[Transmit WS] Write error to %s: %v", clientIP, err)
				return
			}
		default:
			if err := conn.writeError(fmt.Sprintf("unknown message type %q", msg.Type)); err != nil {
				return
			}
		}
	}
}

// handleTransmit serves one transmit request. Request failures are reported
// to the client; only connection errors are returned.
func (h *TransmitWebSocketHandler) handleTransmit(ctx context.Context, conn *wsConn, msg transmitMessage, clientIP, userAgent string) error {
	if err := h.checkProtocol(msg.Protocol); err != nil {
		return conn.writeError(err.Error())
	}
	if !h.limiter.AllowRequest(clientIP) {
		h.metrics.RecordRateLimited()
		return conn.writeError("Rate limit exceeded, try again later")
	}

	req := EncodeRequest{
		Mode:      msg.Mode,
		Callsign:  msg.Callsign,
		ClientIP:  clientIP,
		UserAgent: userAgent,
	}
	if data, err := decodeImagePayload(msg.Image); err != nil {
		return conn.writeError("Image is not valid base64")
	} else if len(data) > 0 {
		req.Image = bytes.NewReader(data)
	}

	switch msg.Target {
	case "", "points":
		return h.sendPoints(ctx, conn, req, msg.Start)
	case TargetPCM:
		return h.sendPCM(ctx, conn, req, msg.Compress)
	}
	return conn.writeError(fmt.Sprintf("unknown target %q (want points or pcm)", msg.Target))
}

// decodeImagePayload accepts plain base64 or a data: URL
func decodeImagePayload(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		if comma := strings.IndexByte(payload, ','); comma >= 0 {
			payload = payload[comma+1:]
		}
	}
	if payload == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(payload)
}

func (h *TransmitWebSocketHandler) sendPoints(ctx context.Context, conn *wsConn, req EncodeRequest, start float64) error {
	plan, err := h.transmitter.PlanLive(ctx, req, start)
	if err != nil {
		return conn.writeError(userMessage(err))
	}

	err = conn.writeJSON("schedule", scheduleMessage{
		Type:     "schedule",
		ID:       plan.Record.ID,
		Mode:     plan.Record.Mode,
		VIS:      plan.Record.VIS,
		Start:    plan.Start,
		End:      plan.End,
		Duration: plan.Record.Duration,
		LeadMs:   plan.Lead.Milliseconds(),
		Points:   len(plan.Points),
	})
	if err != nil {
		return err
	}

	batch := max(1, h.config.Encoder.PointsBatch)
	for i := 0; i < len(plan.Points); i += batch {
		end := min(i+batch, len(plan.Points))
		if err := conn.writeJSON("points", pointsMessage{Type: "points", Points: plan.Points[i:end]}); err != nil {
			return err
		}
	}

	return conn.writeJSON("complete", completeMessage{Type: "complete", ID: plan.Record.ID})
}

func (h *TransmitWebSocketHandler) sendPCM(ctx context.Context, conn *wsConn, req EncodeRequest, compress bool) error {
	tx, record, err := h.transmitter.RenderPCM(ctx, req)
	if err != nil {
		return conn.writeError(userMessage(err))
	}

	err = conn.writeJSON("pcm_start", pcmStartMessage{
		Type:       "pcm_start",
		ID:         record.ID,
		Mode:       record.Mode,
		VIS:        record.VIS,
		SampleRate: tx.SampleRate,
		Samples:    len(tx.PCM),
		Duration:   record.Duration,
		Compressed: compress,
	})
	if err != nil {
		return err
	}

	encoder := NewPCMBinaryEncoder(compress, tx.SampleRate, len(tx.PCM))
	defer encoder.Close()

	for i := 0; i < len(tx.PCM); i += pcmPacketSamples {
		end := min(i+pcmPacketSamples, len(tx.PCM))
		if err := conn.writeBinary(encoder.EncodePacket(tx.PCM[i:end], uint64(i))); err != nil {
			return err
		}
	}

	return conn.writeJSON("complete", completeMessage{Type: "complete", ID: record.ID})
}
