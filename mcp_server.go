package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cwsl/sstv_encoder/sstv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer handles Model Context Protocol requests
type MCPServer struct {
	config      *Config
	transmitter *Transmitter
	mcpServer   *server.MCPServer
	httpServer  *server.StreamableHTTPServer
}

// NewMCPServer creates a new MCP server instance
func NewMCPServer(cfg *Config, transmitter *Transmitter) *MCPServer {
	m := &MCPServer{
		config:      cfg,
		transmitter: transmitter,
	}

	// Create MCP server with server info
	m.mcpServer = server.NewMCPServer(
		"SSTV Encoder",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	// Register all tools
	m.registerTools()

	// Create HTTP server wrapper
	m.httpServer = server.NewStreamableHTTPServer(m.mcpServer)

	return m
}

// registerTools registers all available MCP tools
func (m *MCPServer) registerTools() {
	m.mcpServer.AddTool(
		mcp.NewTool("list_sstv_modes",
			mcp.WithDescription("List every SSTV mode this encoder can transmit, with its selector code, VIS code, resolution, colour encoding and total transmission time. Use this to choose a mode: longer modes give better picture quality, shorter ones suit poor conditions."),
			mcp.WithString("format",
				mcp.Description("Output format: 'json' for structured data or 'text' for human-readable summary"),
				mcp.DefaultString("json"),
			),
		),
		m.handleListModes,
	)

	m.mcpServer.AddTool(
		mcp.NewTool("get_mode_timing",
			mcp.WithDescription("Get the detailed timing of one SSTV mode: sync, porch and scan durations, line time, header time and the total transmission length."),
			mcp.WithString("mode",
				mcp.Required(),
				mcp.Description("Mode selector code, e.g. 'M1', 'S1', 'PD120'"),
			),
		),
		m.handleGetModeTiming,
	)

	m.mcpServer.AddTool(
		mcp.NewTool("get_recent_transmissions",
			mcp.WithDescription("Get the most recent transmissions produced by this encoder, newest first, with mode, target (file, live, pcm, rtp), duration and client country."),
			mcp.WithNumber("limit",
				mcp.Description("Number of transmissions to return (default: 10, max: 100)"),
				mcp.DefaultNumber(10.0),
			),
			mcp.WithString("format",
				mcp.Description("Output format: 'json' for structured data or 'text' for human-readable summary"),
				mcp.DefaultString("json"),
			),
		),
		m.handleGetRecentTransmissions,
	)

	m.mcpServer.AddTool(
		mcp.NewTool("get_transmitter_status",
			mcp.WithDescription("Get whether the transmitter is currently keyed, and how PTT keying and RTP output are configured."),
		),
		m.handleGetTransmitterStatus,
	)
}

// HandleMCP handles MCP protocol requests over HTTP
func (m *MCPServer) HandleMCP(w http.ResponseWriter, r *http.Request) {
	m.httpServer.ServeHTTP(w, r)
}

// Tool handlers

func (m *MCPServer) handleListModes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := request.GetString("format", "json")

	modes := sstv.Modes()
	infos := make([]modeInfo, 0, len(modes))
	for _, mode := range modes {
		infos = append(infos, describeMode(mode))
	}

	if format == "text" {
		var sb strings.Builder
		sb.WriteString("SSTV Modes:\n\n")
		for _, info := range infos {
			fmt.Fprintf(&sb, "%-7s %-16s VIS %s  %-8s %s  %.1fs\n",
				info.Code, info.Name, info.VIS, info.Resolution, info.Color, info.Duration)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}

	jsonData, err := json.MarshalIndent(infos, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal data: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}

// modeTiming is the timing breakdown of a mode in milliseconds
type modeTiming struct {
	modeInfo
	SyncMs     float64 `json:"sync_ms"`
	PorchMs    float64 `json:"porch_ms"`
	ScanMs     float64 `json:"scan_ms"`
	HeaderMs   float64 `json:"header_ms"`
	Lines      int     `json:"lines"`
	PixelUsecs float64 `json:"pixel_us"`
}

func (m *MCPServer) handleGetModeTiming(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("mode")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	mode, err := sstv.Lookup(code)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	timing := modeTiming{
		modeInfo:   describeMode(mode),
		SyncMs:     mode.SyncTime * 1000,
		PorchMs:    mode.BlankTime * 1000,
		ScanMs:     mode.ScanTime * 1000,
		HeaderMs:   sstv.HeaderDuration * 1000,
		Lines:      mode.NumLines,
		PixelUsecs: mode.ScanTime / float64(mode.Width) * 1e6,
	}

	jsonData, err := json.MarshalIndent(timing, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal data: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}

func (m *MCPServer) handleGetRecentTransmissions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := int(request.GetFloat("limit", 10.0))
	format := request.GetString("format", "json")

	if limit < 1 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	if m.transmitter.History == nil {
		return mcp.NewToolResultError("Transmission history is not enabled"), nil
	}
	records := m.transmitter.History.Recent(limit)

	if format == "text" {
		if len(records) == 0 {
			return mcp.NewToolResultText("No transmissions yet"), nil
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "Recent transmissions (%d):\n\n", len(records))
		for _, rec := range records {
			fmt.Fprintf(&sb, "%s  %-6s %-5s %6.1fs", rec.Timestamp.Format(time.RFC3339), rec.Mode, rec.Target, rec.Duration)
			if rec.Callsign != "" {
				fmt.Fprintf(&sb, "  %s", rec.Callsign)
			}
			if rec.Country != "" {
				fmt.Fprintf(&sb, "  [%s]", rec.Country)
			}
			sb.WriteString("\n")
		}
		return mcp.NewToolResultText(sb.String()), nil
	}

	jsonData, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal data: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}

func (m *MCPServer) handleGetTransmitterStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := map[string]interface{}{
		"transmitting": m.transmitter.Gate != nil && m.transmitter.Gate.Busy(),
		"ptt_enabled":  m.config.PTT.Enabled,
		"rtp_enabled":  m.transmitter.RTP != nil,
		"default_mode": m.config.Encoder.DefaultMode,
		"sample_rate":  m.config.Encoder.SampleRate,
	}
	if m.config.PTT.Enabled {
		status["ptt_lead_ms"] = m.config.PTT.LeadMs
		status["ptt_tail_ms"] = m.config.PTT.TailMs
	}
	if m.transmitter.RTP != nil {
		status["rtp_destination"] = m.transmitter.RTP.Destination()
	}

	jsonData, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal data: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}
