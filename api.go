package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/cwsl/sstv_encoder/sstv"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// globalConfig lets getClientIP consult the trusted proxy list
var globalConfig *Config

// errBadRequest marks uploads that could not be parsed
var errBadRequest = errors.New("malformed request")

// APIServer serves the encoder's HTTP endpoints
type APIServer struct {
	config      *Config
	transmitter *Transmitter
	history     *TransmissionLog
	metrics     *PrometheusMetrics
	gatherer    prometheus.Gatherer
	limiter     *IPRateLimiter
}

// NewAPIServer creates the HTTP API around transmitter
func NewAPIServer(config *Config, transmitter *Transmitter, gatherer prometheus.Gatherer, limiter *IPRateLimiter) *APIServer {
	return &APIServer{
		config:      config,
		transmitter: transmitter,
		history:     transmitter.History,
		metrics:     transmitter.Metrics,
		gatherer:    gatherer,
		limiter:     limiter,
	}
}

// Register mounts the API on mux
func (s *APIServer) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/api/modes", gzhttp.GzipHandler(http.HandlerFunc(s.handleModes)))
	mux.HandleFunc("/api/encode", s.handleEncode)
	mux.HandleFunc("/api/schedule", s.handleSchedule)
	mux.HandleFunc("/api/transmit", s.handleTransmit)
	mux.Handle("/api/transmissions", gzhttp.GzipHandler(http.HandlerFunc(s.handleTransmissions)))

	if s.config.Prometheus.Enabled {
		mux.HandleFunc("/metrics", s.handlePrometheusMetrics)
	}
}

// handleHealth handles health check requests
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// modeInfo is the public description of one mode
type modeInfo struct {
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	VIS        string  `json:"vis"`
	Resolution string  `json:"resolution"`
	Family     string  `json:"family"`
	Color      string  `json:"color"`
	LineMs     float64 `json:"line_ms"`
	Duration   float64 `json:"duration"`
}

func describeMode(m sstv.Mode) modeInfo {
	return modeInfo{
		Code:       m.ShortName,
		Name:       m.Name,
		VIS:        fmt.Sprintf("0x%02X", m.VISCode()),
		Resolution: m.Resolution(),
		Family:     m.Family.String(),
		Color:      m.Family.ColorEncoding(),
		LineMs:     m.LineDuration() * 1000,
		Duration:   m.Duration(),
	}
}

func (s *APIServer) handleModes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	modes := sstv.Modes()
	infos := make([]modeInfo, 0, len(modes))
	for _, m := range modes {
		infos = append(infos, describeMode(m))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"default": s.config.Encoder.DefaultMode,
		"modes":   infos,
	})
}

func (s *APIServer) handleEncode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !s.allow(w, r) {
		return
	}

	req, err := s.parseEncodeRequest(w, r)
	if err != nil {
		s.writeEncodeError(w, err)
		return
	}

	tx, record, err := s.transmitter.EncodeFile(r.Context(), req)
	if err != nil {
		s.writeEncodeError(w, err)
		return
	}

	w.Header().Set("Content-Type", sstv.WAVMimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sstv.WAVFilename))
	w.Header().Set("Content-Length", strconv.Itoa(tx.WAVSize()))
	w.Header().Set("X-Transmission-ID", record.ID)
	w.Header().Set("X-SSTV-Mode", record.Mode)
	w.WriteHeader(http.StatusOK)

	if err := tx.WriteWAV(w); err != nil {
		log.Printf("[API] Error writing WAV response: %v", err)
	}
}

// scheduleResponse carries a live set-point schedule
type scheduleResponse struct {
	ID       string          `json:"id"`
	Mode     string          `json:"mode"`
	VIS      string          `json:"vis"`
	Start    float64         `json:"start"`
	End      float64         `json:"end"`
	Duration float64         `json:"duration"`
	LeadMs   int64           `json:"lead_ms"`
	Points   []sstv.SetPoint `json:"points"`
}

func (s *APIServer) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !s.allow(w, r) {
		return
	}

	start := 0.0
	if v := r.URL.Query().Get("start"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed < 0 {
			writeJSONError(w, http.StatusBadRequest, "start must be a non-negative number of seconds")
			return
		}
		start = parsed
	}

	req, err := s.parseEncodeRequest(w, r)
	if err != nil {
		s.writeEncodeError(w, err)
		return
	}

	// The keyed transmitter must outlive this request
	plan, err := s.transmitter.PlanLive(context.WithoutCancel(r.Context()), req, start)
	if err != nil {
		s.writeEncodeError(w, err)
		return
	}

	w.Header().Set("X-Transmission-ID", plan.Record.ID)
	writeJSON(w, http.StatusOK, scheduleResponse{
		ID:       plan.Record.ID,
		Mode:     plan.Record.Mode,
		VIS:      plan.Record.VIS,
		Start:    plan.Start,
		End:      plan.End,
		Duration: plan.Record.Duration,
		LeadMs:   plan.Lead.Milliseconds(),
		Points:   plan.Points,
	})
}

func (s *APIServer) handleTransmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !s.allow(w, r) {
		return
	}

	req, err := s.parseEncodeRequest(w, r)
	if err != nil {
		s.writeEncodeError(w, err)
		return
	}

	record, err := s.transmitter.TransmitRTP(req)
	if err != nil {
		s.writeEncodeError(w, err)
		return
	}

	w.Header().Set("X-Transmission-ID", record.ID)
	writeJSON(w, http.StatusAccepted, record)
}

func (s *APIServer) handleTransmissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	records := []TransmissionRecord{}
	total := 0
	if s.history != nil {
		records = s.history.Recent(limit)
		total = s.history.Count()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":         total,
		"transmissions": records,
	})
}

// handlePrometheusMetrics serves Prometheus metrics with IP-based access control
func (s *APIServer) handlePrometheusMetrics(w http.ResponseWriter, r *http.Request) {
	clientIP := getClientIP(r)

	if !s.config.Prometheus.IsIPAllowed(clientIP) {
		w.WriteHeader(http.StatusForbidden)
		if _, err := w.Write([]byte("403 Forbidden: Access denied\n")); err != nil {
			log.Printf("Error writing forbidden response: %v", err)
		}
		log.Printf("Prometheus metrics access denied for IP: %s", clientIP)
		return
	}

	promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

// allow applies the per-IP rate limit, writing 429 when exceeded
func (s *APIServer) allow(w http.ResponseWriter, r *http.Request) bool {
	clientIP := getClientIP(r)
	if s.limiter.AllowRequest(clientIP) {
		return true
	}
	s.metrics.RecordRateLimited()
	log.Printf("[API] Rate limit exceeded for %s on %s", clientIP, r.URL.Path)
	w.Header().Set("Retry-After", "60")
	writeJSONError(w, http.StatusTooManyRequests, "Rate limit exceeded, try again later")
	return false
}

// parseEncodeRequest reads the mode, callsign and image from either a raw
// image body or a multipart form with an "image" file field
func (s *APIServer) parseEncodeRequest(w http.ResponseWriter, r *http.Request) (EncodeRequest, error) {
	req := EncodeRequest{
		Mode:      r.URL.Query().Get("mode"),
		Callsign:  r.URL.Query().Get("callsign"),
		ClientIP:  getClientIP(r),
		UserAgent: r.UserAgent(),
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(s.config.Server.MaxUploadBytes); err != nil {
			return req, fmt.Errorf("%w: failed to parse form: %w", errBadRequest, err)
		}
		if req.Mode == "" {
			req.Mode = r.FormValue("mode")
		}
		if req.Callsign == "" {
			req.Callsign = r.FormValue("callsign")
		}

		file, _, err := r.FormFile("image")
		if errors.Is(err, http.ErrMissingFile) {
			return req, nil
		}
		if err != nil {
			return req, fmt.Errorf("%w: failed to read image field: %w", errBadRequest, err)
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return req, fmt.Errorf("%w: failed to read image field: %w", errBadRequest, err)
		}
		if len(data) > 0 {
			req.Image = bytes.NewReader(data)
		}
		return req, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return req, fmt.Errorf("%w: failed to read request body: %w", errBadRequest, err)
	}
	if len(data) > 0 {
		req.Image = bytes.NewReader(data)
	}
	return req, nil
}

// encodeStatus maps an encode failure onto an HTTP status
func encodeStatus(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, sstv.ErrUnconfiguredMode),
		errors.Is(err, sstv.ErrUnknownMode),
		errors.Is(err, sstv.ErrMissingInput),
		errors.Is(err, image.ErrFormat),
		errors.Is(err, ErrImageDecode),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrTransmitterBusy):
		return http.StatusConflict
	case errors.Is(err, ErrRTPDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return 499
	}
	return http.StatusInternalServerError
}

func (s *APIServer) writeEncodeError(w http.ResponseWriter, err error) {
	status := encodeStatus(err)
	message := userMessage(err)

	switch status {
	case http.StatusRequestEntityTooLarge:
		message = fmt.Sprintf("Image larger than %d bytes", s.config.Server.MaxUploadBytes)
	case http.StatusInternalServerError:
		log.Printf("[API] ERROR: %v", err)
	default:
		if message == "Encoding failed" {
			message = err.Error()
		}
		if DebugMode {
			log.Printf("DEBUG: [API] %d: %v", status, err)
		}
	}
	writeJSONError(w, status, message)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// getClientIP extracts the client IP from the request. X-Forwarded-For is
// honoured only when the direct peer is a trusted proxy.
func getClientIP(r *http.Request) string {
	// Get source IP address and strip port number
	sourceIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(sourceIP); err == nil {
		sourceIP = host
	}

	if globalConfig == nil || !globalConfig.Server.IsTrustedProxy(sourceIP) {
		return sourceIP
	}

	clientIP := sourceIP

	// Check X-Forwarded-For header for true source IP (first IP in the list)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For can contain multiple IPs: "client, proxy1, proxy2"
		clientIP = strings.TrimSpace(xff)
		if commaIdx := strings.Index(clientIP, ","); commaIdx != -1 {
			clientIP = strings.TrimSpace(clientIP[:commaIdx])
		}
		// Strip port if present in X-Forwarded-For
		if host, _, err := net.SplitHostPort(clientIP); err == nil {
			clientIP = host
		}
		if DebugMode {
			log.Printf("DEBUG: Trusted X-Forwarded-For from proxy %s: %s", sourceIP, clientIP)
		}
	}

	return clientIP
}
