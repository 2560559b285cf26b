package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/cwsl/sstv_encoder/sstv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Encoder    EncoderConfig    `yaml:"encoder"`
	Image      ImageConfig      `yaml:"image"`
	Archive    ArchiveConfig    `yaml:"archive"`
	PTT        PTTConfig        `yaml:"ptt"`
	RTP        RTPConfig        `yaml:"rtp"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	GeoIP      GeoIPConfig      `yaml:"geoip"`
	MCP        MCPConfig        `yaml:"mcp"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains web server settings
type ServerConfig struct {
	Listen             string   `yaml:"listen"`
	MaxConnections     int      `yaml:"max_connections"`       // Concurrent TCP connections accepted (0 = unlimited)
	EnableCORS         bool     `yaml:"enable_cors"`
	LogFileEnabled     bool     `yaml:"logfile_enabled"`       // Enable HTTP request logging (default: false)
	LogFile            string   `yaml:"logfile"`               // HTTP request log file path
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"` // Encode requests per minute per IP (0 = unlimited)
	MaxUploadBytes     int64    `yaml:"max_upload_bytes"`      // Largest accepted image upload
	TrustedProxyIPs    []string `yaml:"trusted_proxy_ips"`     // List of IPs/CIDRs to trust X-Forwarded-For from
	HistorySize        int      `yaml:"history_size"`          // Transmissions kept for /api/transmissions

	trustedProxyNets []*net.IPNet // Parsed CIDR networks (internal use)
}

// EncoderConfig contains SSTV encoding settings
type EncoderConfig struct {
	DefaultMode   string  `yaml:"default_mode"`   // Mode preselected by clients via /api/modes; requests must still name one
	SampleRate    int     `yaml:"sample_rate"`    // WAV sample rate in Hz (default: 48000)
	Amplitude     float64 `yaml:"amplitude"`      // Peak level, 0 < a <= 1 (default: 1.0)
	MaxConcurrent int     `yaml:"max_concurrent"` // Encodes running at once (default: 2)
	PointsBatch   int     `yaml:"points_batch"`   // Set-points per websocket message (default: 512)
}

// ImageConfig controls how uploads are turned into frames
type ImageConfig struct {
	Callsign         string `yaml:"callsign"`          // Overlay text, empty for none
	CallsignLocation string `yaml:"callsign_location"` // top-left or bottom-left
	Resample         string `yaml:"resample"`          // nearest, bilinear or catmullrom
}

// ArchiveConfig controls on-disk copies of rendered transmissions
type ArchiveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Dir      string `yaml:"dir"`
	Compress bool   `yaml:"compress"` // Store as .wav.zst
}

// PTTConfig contains serial push-to-talk settings
type PTTConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"`    // e.g. /dev/ttyUSB0
	Baud    int    `yaml:"baud"`    // default: 9600
	Line    string `yaml:"line"`    // rts or dtr
	LeadMs  int    `yaml:"lead_ms"` // Key-up time before audio starts
	TailMs  int    `yaml:"tail_ms"` // Hang time after audio ends
}

// RTPConfig contains settings for streaming transmissions to a network audio sink
type RTPConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Destination string `yaml:"destination"`  // host:port, unicast or multicast
	Interface   string `yaml:"interface"`    // Outgoing interface for multicast
	TTL         int    `yaml:"ttl"`          // Multicast TTL (default: 1)
	PayloadType uint8  `yaml:"payload_type"` // Dynamic payload type (default: 96)
	SSRC        uint32 `yaml:"ssrc"`         // 0 picks a random SSRC
	PacketMs    int    `yaml:"packet_ms"`    // Audio per packet (default: 20)
}

// PrometheusConfig contains Prometheus metrics settings
type PrometheusConfig struct {
	Enabled      bool              `yaml:"enabled"`       // Enable/disable Prometheus metrics endpoint
	AllowedHosts []string          `yaml:"allowed_hosts"` // List of IPs/CIDRs allowed to access metrics
	Pushgateway  PushgatewayConfig `yaml:"pushgateway"`   // Pushgateway configuration

	allowedNets []*net.IPNet // Parsed CIDR networks (internal use)
}

// PushgatewayConfig contains Prometheus Pushgateway settings
type PushgatewayConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`      // Pushgateway URL (e.g., http://pushgateway:9091)
	Job      string `yaml:"job"`      // Job label (default: sstv_encoder)
	Instance string `yaml:"instance"` // Instance grouping label
	Interval int    `yaml:"interval"` // Seconds between pushes (default: 60)
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled         bool          `yaml:"enabled"`          // Enable/disable MQTT publishing
	Broker          string        `yaml:"broker"`           // MQTT broker URL (e.g., tcp://mqtt.example.com:1883)
	Username        string        `yaml:"username"`         // MQTT authentication username
	Password        string        `yaml:"password"`         // MQTT authentication password
	TopicPrefix     string        `yaml:"topic_prefix"`     // Topic prefix for all messages
	PublishInterval int           `yaml:"publish_interval"` // Publishing interval for metrics in seconds
	QoS             byte          `yaml:"qos"`              // MQTT Quality of Service level (0, 1, or 2)
	Retain          bool          `yaml:"retain"`           // Retain flag for MQTT messages
	TLS             MQTTTLSConfig `yaml:"tls"`              // TLS/SSL settings
}

// MQTTTLSConfig contains MQTT TLS/SSL settings
type MQTTTLSConfig struct {
	Enabled    bool   `yaml:"enabled"`     // Enable/disable TLS
	CACert     string `yaml:"ca_cert"`     // Path to CA certificate file
	ClientCert string `yaml:"client_cert"` // Path to client certificate file (optional)
	ClientKey  string `yaml:"client_key"`  // Path to client key file (optional)
}

// GeoIPConfig contains IP geolocation settings
type GeoIPConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"` // MaxMind GeoLite2/GeoIP2 Country or City database
}

// MCPConfig contains Model Context Protocol server settings
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level string `yaml:"level"` // info or debug
}

// DefaultConfig returns a configuration with every default applied, used
// when no config file is present
func DefaultConfig() *Config {
	config := &Config{}
	config.applyDefaults()
	return config
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Parse trusted proxy IPs/CIDRs
	if config.Server.trustedProxyNets, err = parseIPNets(config.Server.TrustedProxyIPs); err != nil {
		return nil, fmt.Errorf("failed to parse trusted_proxy_ips: %w", err)
	}

	// Parse Prometheus allowed hosts IPs/CIDRs
	if config.Prometheus.Enabled {
		if config.Prometheus.allowedNets, err = parseIPNets(config.Prometheus.AllowedHosts); err != nil {
			return nil, fmt.Errorf("failed to parse prometheus.allowed_hosts: %w", err)
		}
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.MaxConnections == 0 {
		c.Server.MaxConnections = 100
	}
	// Note: LogFile path is relative to working directory, not config directory
	if c.Server.LogFile == "" {
		c.Server.LogFile = "web.log"
	}
	if c.Server.RateLimitPerMinute == 0 {
		c.Server.RateLimitPerMinute = 30
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 16 << 20
	}
	if c.Server.HistorySize == 0 {
		c.Server.HistorySize = 100
	}

	if c.Encoder.SampleRate == 0 {
		c.Encoder.SampleRate = sstv.DefaultSampleRate
	}
	if c.Encoder.Amplitude == 0 {
		c.Encoder.Amplitude = 1.0
	}
	if c.Encoder.MaxConcurrent == 0 {
		c.Encoder.MaxConcurrent = 2
	}
	if c.Encoder.PointsBatch == 0 {
		c.Encoder.PointsBatch = 512
	}

	if c.Image.CallsignLocation == "" {
		c.Image.CallsignLocation = CallsignTopLeft
	}
	if c.Image.Resample == "" {
		c.Image.Resample = "bilinear"
	}

	if c.Archive.Dir == "" {
		c.Archive.Dir = "archive"
	}

	if c.PTT.Baud == 0 {
		c.PTT.Baud = 9600
	}
	if c.PTT.Line == "" {
		c.PTT.Line = "rts"
	}
	if c.PTT.LeadMs == 0 {
		c.PTT.LeadMs = 200
	}
	if c.PTT.TailMs == 0 {
		c.PTT.TailMs = 200
	}

	if c.RTP.TTL == 0 {
		c.RTP.TTL = 1
	}
	if c.RTP.PayloadType == 0 {
		c.RTP.PayloadType = 96
	}
	if c.RTP.PacketMs == 0 {
		c.RTP.PacketMs = 20
	}

	if c.Prometheus.Pushgateway.Job == "" {
		c.Prometheus.Pushgateway.Job = "sstv_encoder"
	}
	if c.Prometheus.Pushgateway.Interval == 0 {
		c.Prometheus.Pushgateway.Interval = 60
	}

	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "sstv"
	}
	if c.MQTT.PublishInterval == 0 {
		c.MQTT.PublishInterval = 60
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Server.MaxUploadBytes < 1024 {
		return fmt.Errorf("server.max_upload_bytes must be at least 1024")
	}

	if c.Encoder.DefaultMode != "" {
		if _, err := sstv.Lookup(c.Encoder.DefaultMode); err != nil && !errors.Is(err, sstv.ErrUnconfiguredMode) {
			return fmt.Errorf("encoder.default_mode: %w", err)
		}
	}
	if c.Encoder.SampleRate < 8000 {
		return fmt.Errorf("encoder.sample_rate must be at least 8000")
	}
	if c.Encoder.Amplitude <= 0 || c.Encoder.Amplitude > 1 {
		return fmt.Errorf("encoder.amplitude must be in (0, 1]")
	}
	if c.Encoder.MaxConcurrent < 1 {
		return fmt.Errorf("encoder.max_concurrent must be at least 1")
	}

	switch c.Image.CallsignLocation {
	case CallsignTopLeft, CallsignBottomLeft:
	default:
		return fmt.Errorf("image.callsign_location must be %s or %s", CallsignTopLeft, CallsignBottomLeft)
	}
	if _, err := resampler(c.Image.Resample); err != nil {
		return fmt.Errorf("image.resample: %w", err)
	}

	if c.PTT.Enabled {
		if c.PTT.Port == "" {
			return fmt.Errorf("ptt.port is required when ptt is enabled")
		}
		if line := strings.ToLower(c.PTT.Line); line != "rts" && line != "dtr" {
			return fmt.Errorf("ptt.line must be rts or dtr")
		}
	}

	if c.RTP.Enabled {
		if _, _, err := net.SplitHostPort(c.RTP.Destination); err != nil {
			return fmt.Errorf("rtp.destination: %w", err)
		}
		if c.RTP.PacketMs < 1 || c.RTP.PacketMs > 100 {
			return fmt.Errorf("rtp.packet_ms must be between 1 and 100")
		}
		if c.RTP.PayloadType > 127 {
			return fmt.Errorf("rtp.payload_type must be below 128")
		}
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}

	if c.GeoIP.Enabled && c.GeoIP.DatabasePath == "" {
		return fmt.Errorf("geoip.database_path is required when geoip is enabled")
	}

	return nil
}

// parseIPNets parses a list of IPs and CIDRs into networks. Single addresses
// become /32 or /128 networks.
func parseIPNets(list []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(list))

	for _, ipStr := range list {
		// Check if it's a CIDR notation
		if _, ipNet, err := net.ParseCIDR(ipStr); err == nil {
			nets = append(nets, ipNet)
			continue
		}

		// Try parsing as a single IP address
		ip := net.ParseIP(ipStr)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP or CIDR: %s", ipStr)
		}
		bits := 128
		if ip.To4() != nil {
			ip = ip.To4()
			bits = 32
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}

	return nets, nil
}

// containsIP reports whether ipStr falls inside any of nets
func containsIP(nets []*net.IPNet, ipStr string) bool {
	if len(nets) == 0 {
		return false
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}

	for _, ipNet := range nets {
		if ipNet.Contains(ip) {
			return true
		}
	}

	return false
}

// IsTrustedProxy checks if an IP address is in the trusted proxy list
func (sc *ServerConfig) IsTrustedProxy(ipStr string) bool {
	return containsIP(sc.trustedProxyNets, ipStr)
}

// IsIPAllowed checks if an IP address is in the allowed hosts list
func (pc *PrometheusConfig) IsIPAllowed(ipStr string) bool {
	return containsIP(pc.allowedNets, ipStr)
}
