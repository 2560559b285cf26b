package main

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/cwsl/sstv_encoder/sstv"
	"github.com/mark3labs/mcp-go/mcp"
)

func callTool(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(result.Content) == 0 {
		t.Fatal("empty result")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T", result.Content[0])
	}
	return text.Text, result.IsError
}

func TestMCPListModes(t *testing.T) {
	m := NewMCPServer(testConfig(t), newTestTransmitter(t, testConfig(t)))

	text, isErr := callTool(t, m.handleListModes, nil)
	if isErr {
		t.Fatal(text)
	}
	var infos []modeInfo
	if err := json.Unmarshal([]byte(text), &infos); err != nil {
		t.Fatal(err)
	}
	if len(infos) != len(sstv.Modes()) {
		t.Errorf("%d modes", len(infos))
	}

	text, _ = callTool(t, m.handleListModes, map[string]any{"format": "text"})
	if !strings.Contains(text, "PD290") || !strings.Contains(text, "Scottie DX") {
		t.Errorf("text listing:\n%s", text)
	}
}

func TestMCPModeTiming(t *testing.T) {
	m := NewMCPServer(testConfig(t), newTestTransmitter(t, testConfig(t)))

	text, isErr := callTool(t, m.handleGetModeTiming, map[string]any{"mode": "m1"})
	if isErr {
		t.Fatal(text)
	}
	var timing struct {
		Code     string  `json:"code"`
		LineMs   float64 `json:"line_ms"`
		SyncMs   float64 `json:"sync_ms"`
		HeaderMs float64 `json:"header_ms"`
		Lines    int     `json:"lines"`
	}
	if err := json.Unmarshal([]byte(text), &timing); err != nil {
		t.Fatal(err)
	}
	if timing.Code != "M1" || timing.Lines != 256 {
		t.Errorf("timing %+v", timing)
	}
	if math.Abs(timing.SyncMs-4.862) > 1e-9 || math.Abs(timing.HeaderMs-1710) > 1e-6 {
		t.Errorf("sync %v header %v", timing.SyncMs, timing.HeaderMs)
	}

	if _, isErr := callTool(t, m.handleGetModeTiming, map[string]any{}); !isErr {
		t.Error("missing mode accepted")
	}
	if text, isErr := callTool(t, m.handleGetModeTiming, map[string]any{"mode": "Z1"}); !isErr || !strings.Contains(text, "unknown SSTV mode") {
		t.Errorf("unknown mode result %q", text)
	}
}

func TestMCPRecentTransmissions(t *testing.T) {
	tr := newTestTransmitter(t, testConfig(t))
	m := NewMCPServer(testConfig(t), tr)

	if text, _ := callTool(t, m.handleGetRecentTransmissions, map[string]any{"format": "text"}); text != "No transmissions yet" {
		t.Errorf("empty history text %q", text)
	}

	for i := 0; i < 5; i++ {
		tr.History.Add(TransmissionRecord{ID: strconv.Itoa(i), Mode: "S1", Target: TargetLive, Country: "DE"})
	}

	text, _ := callTool(t, m.handleGetRecentTransmissions, map[string]any{"limit": 2.0})
	var records []TransmissionRecord
	if err := json.Unmarshal([]byte(text), &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0].ID != "4" {
		t.Errorf("records %+v", records)
	}

	text, _ = callTool(t, m.handleGetRecentTransmissions, map[string]any{"format": "text"})
	if !strings.Contains(text, "Recent transmissions (5)") || !strings.Contains(text, "[DE]") {
		t.Errorf("text:\n%s", text)
	}
}

func TestMCPTransmitterStatus(t *testing.T) {
	m := NewMCPServer(testConfig(t), newTestTransmitter(t, testConfig(t)))

	text, _ := callTool(t, m.handleGetTransmitterStatus, nil)
	var status map[string]interface{}
	if err := json.Unmarshal([]byte(text), &status); err != nil {
		t.Fatal(err)
	}
	if status["transmitting"] != false || status["rtp_enabled"] != false || status["sample_rate"] != 11025.0 {
		t.Errorf("status %v", status)
	}
}
