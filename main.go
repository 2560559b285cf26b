package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cwsl/sstv_encoder/sstv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/netutil"
)

// Global debug flag
var DebugMode bool

// Global start time for process uptime tracking
var StartTime time.Time

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Flush lets streamed responses through the wrapper
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// httpLogger creates a logging middleware that logs requests in Apache combined log format
func httpLogger(logFile *os.File, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		userAgent := r.Header.Get("User-Agent")
		if userAgent == "" {
			userAgent = "-"
		}
		referer := r.Referer()
		if referer == "" {
			referer = "-"
		}

		// WebSocket upgrades are logged up front; the connection is hijacked
		// so there is no response to capture
		if r.Header.Get("Upgrade") == "websocket" {
			logLine := fmt.Sprintf("%s - - [%s] \"%s %s %s\" 101 - \"%s\" \"%s\" 0.000ms\n",
				getClientIP(r),
				start.Format("02/Jan/2006:15:04:05 -0700"),
				r.Method,
				r.RequestURI,
				r.Proto,
				referer,
				userAgent,
			)
			if _, err := logFile.WriteString(logLine); err != nil {
				log.Printf("Error writing to access log: %v", err)
			}

			next.ServeHTTP(w, r)
			return
		}

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     200,
		}

		next.ServeHTTP(wrapped, r)

		// Apache Combined Log Format:
		// %h %l %u %t "%r" %>s %b "%{Referer}i" "%{User-agent}i"
		logLine := fmt.Sprintf("%s - - [%s] \"%s %s %s\" %d %d \"%s\" \"%s\" %.3fms\n",
			getClientIP(r),
			start.Format("02/Jan/2006:15:04:05 -0700"),
			r.Method,
			r.RequestURI,
			r.Proto,
			wrapped.statusCode,
			wrapped.written,
			referer,
			userAgent,
			float64(time.Since(start).Microseconds())/1000.0,
		)

		if _, err := logFile.WriteString(logLine); err != nil {
			log.Printf("Error writing to access log: %v", err)
		}
	})
}

// corsMiddleware adds CORS headers to all responses if enabled in config
func corsMiddleware(config *Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if config.Server.EnableCORS {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition, X-Transmission-ID, X-SSTV-Mode")
			w.Header().Set("Access-Control-Max-Age", "86400") // Cache preflight for 24 hours

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	StartTime = time.Now()

	// Parse command line flags
	configDir := flag.String("config-dir", ".", "Directory containing configuration files")
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	encode := flag.Bool("encode", false, "Encode one image to a WAV file and exit")
	modeFlag := flag.String("mode", "", "SSTV mode for -encode (e.g. M1, S1, PD120)")
	inFile := flag.String("in", "", "Input image for -encode")
	outFile := flag.String("out", sstv.WAVFilename, "Output WAV file for -encode")
	callsign := flag.String("callsign", "", "Callsign overlay for -encode")
	verify := flag.Bool("verify", false, "Decode the VIS header of the -encode output")
	listModes := flag.Bool("list-modes", false, "List supported modes and exit")
	flag.Parse()

	// Set global debug mode - check environment variable first, then CLI flag
	DebugMode = *debug
	if debugEnv := os.Getenv("DEBUG"); debugEnv != "" {
		// Environment variable takes precedence
		DebugMode = debugEnv == "true" || debugEnv == "1" || debugEnv == "yes"
	}

	if *listModes {
		printModes()
		return
	}

	// Load configuration
	configPath := *configFile
	if *configDir != "." {
		configPath = filepath.Join(*configDir, *configFile)
	}
	config, err := LoadConfig(configPath)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("Configuration %s not found, using defaults", configPath)
		config = DefaultConfig()
	} else if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := config.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if strings.EqualFold(config.Logging.Level, "debug") {
		DebugMode = true
	}
	if DebugMode {
		log.Println("Debug mode enabled")
	}
	globalConfig = config

	if *encode {
		if err := runEncode(config, *modeFlag, *inFile, *outFile, *callsign, *verify); err != nil {
			log.Fatalf("Encode failed: %v", err)
		}
		return
	}

	if err := runServer(config, *configDir); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func printModes() {
	fmt.Printf("%-7s %-18s %-5s %-9s %-5s %s\n", "CODE", "NAME", "VIS", "SIZE", "COLOR", "DURATION")
	for _, m := range sstv.Modes() {
		info := describeMode(m)
		fmt.Printf("%-7s %-18s %-5s %-9s %-5s %.3fs\n",
			info.Code, info.Name, info.VIS, info.Resolution, info.Color, info.Duration)
	}
}

// runEncode performs one file encode from the command line
func runEncode(config *Config, mode, in, out, callsign string, verify bool) error {
	if in == "" {
		return fmt.Errorf("-in is required with -encode")
	}

	f, err := os.Open(in)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	transmitter := NewTransmitter(config, TransmitterServices{})
	tx, record, err := transmitter.EncodeFile(context.Background(), EncodeRequest{
		Mode:     mode,
		Image:    f,
		Callsign: callsign,
	})
	if err != nil {
		if msg := userMessage(err); msg != "Encoding failed" {
			return fmt.Errorf("%s: %w", msg, err)
		}
		return err
	}

	tmp := out + ".tmp"
	wav, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := tx.WriteWAV(wav); err != nil {
		wav.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write WAV: %w", err)
	}
	if err := wav.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close output file: %w", err)
	}
	if err := os.Rename(tmp, out); err != nil {
		return fmt.Errorf("failed to rename output file: %w", err)
	}

	log.Printf("Wrote %s: %s, %.3fs, %d samples at %d Hz", out, record.Mode, record.Duration, len(tx.PCM), tx.SampleRate)

	if verify {
		report, err := sstv.DetectVIS(tx.PCM, tx.SampleRate)
		if err != nil {
			return fmt.Errorf("VIS verification failed: %w", err)
		}
		log.Printf("VIS verified: code 0x%02X -> %s (%s)", report.Code, report.Mode.ShortName, report.Mode.Name)
	}
	return nil
}

// runServer wires every service and serves HTTP until SIGINT or SIGTERM
func runServer(config *Config, configDir string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := NewPrometheusMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	metrics.StartResourceMonitor(ctx, 15*time.Second)
	if config.Prometheus.Enabled {
		log.Printf("Prometheus metrics enabled at /metrics (allowed hosts: %v)", config.Prometheus.AllowedHosts)
		metrics.StartPushgatewayWorker(ctx, config.Prometheus.Pushgateway)
	}

	var mqttPublisher *MQTTPublisher
	if config.MQTT.Enabled {
		publisher, err := NewMQTTPublisher(&config.MQTT, metrics)
		if err != nil {
			log.Printf("Warning: Failed to start MQTT publisher: %v", err)
		} else {
			mqttPublisher = publisher
			go mqttPublisher.StartPublisher(ctx)
		}
	}

	geoIP, err := NewGeoIPService(config.GeoIP)
	if err != nil {
		log.Printf("Warning: GeoIP disabled: %v", err)
		geoIP = nil
	}
	defer geoIP.Close()

	archive, err := NewArchive(config.Archive)
	if err != nil {
		return err
	}

	ptt, err := NewPTT(config.PTT)
	if err != nil {
		return err
	}
	defer ptt.Close()
	gate := NewTransmitGate(ptt, config.PTT, metrics)

	var rtpSender *RTPSender
	if config.RTP.Enabled {
		rtpSender, err = NewRTPSender(config.RTP, config.Encoder.SampleRate)
		if err != nil {
			return err
		}
		defer rtpSender.Close()
	}

	transmitter := NewTransmitter(config, TransmitterServices{
		Archive: archive,
		History: NewTransmissionLog(config.Server.HistorySize),
		Metrics: metrics,
		MQTT:    mqttPublisher,
		GeoIP:   geoIP,
		Gate:    gate,
		RTP:     rtpSender,
	})

	limiter := NewIPRateLimiter(config.Server.RateLimitPerMinute)
	limiter.StartCleanup(ctx, 5*time.Minute, metrics)

	mux := http.NewServeMux()
	NewAPIServer(config, transmitter, prometheus.DefaultGatherer, limiter).Register(mux)
	mux.HandleFunc("/ws/transmit", NewTransmitWebSocketHandler(config, transmitter, limiter).HandleWebSocket)
	if config.MCP.Enabled {
		mux.HandleFunc("/mcp", NewMCPServer(config, transmitter).HandleMCP)
		log.Println("MCP server enabled at /mcp")
	}
	if info, err := os.Stat("static"); err == nil && info.IsDir() {
		mux.Handle("/", http.FileServer(http.Dir("static")))
	}

	// Wrap the ServeMux with CORS middleware (if enabled), then logging middleware
	var handler http.Handler = mux
	handler = corsMiddleware(config, handler)

	if config.Server.LogFileEnabled {
		// If LogFile is a relative path and we have a config directory, prepend it
		logFilePath := config.Server.LogFile
		if configDir != "." && !filepath.IsAbs(logFilePath) {
			logFilePath = filepath.Join(configDir, logFilePath)
		}
		logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
		}
		defer logFile.Close()
		log.Printf("HTTP request logging to: %s", logFilePath)
		handler = httpLogger(logFile, handler)
	}

	listener, err := net.Listen("tcp", config.Server.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", config.Server.Listen, err)
	}
	if config.Server.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, config.Server.MaxConnections)
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error closing server: %v", err)
		}
	}()

	log.Printf("Server listening on %s (default mode: %q, %d Hz)", config.Server.Listen, config.Encoder.DefaultMode, config.Encoder.SampleRate)

	if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}

	log.Printf("Server stopped after %s", time.Since(StartTime).Round(time.Second))
	return nil
}
