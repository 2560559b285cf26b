package main

import (
	"sync"
	"time"
)

// TransmissionRecord describes one completed encode
type TransmissionRecord struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Mode       string    `json:"mode"`
	VIS        string    `json:"vis"`
	Target     string    `json:"target"` // file, live, pcm or rtp
	Duration   float64   `json:"duration"`
	Samples    int       `json:"samples,omitempty"`
	Callsign   string    `json:"callsign,omitempty"`
	ClientIP   string    `json:"client_ip,omitempty"`
	Country    string    `json:"country,omitempty"`
	Client     string    `json:"client,omitempty"`
	ArchiveKey string    `json:"archive,omitempty"`
	EncodeMs   float64   `json:"encode_ms"`
}

// TransmissionLog keeps the most recent transmissions in memory
type TransmissionLog struct {
	mu      sync.RWMutex
	records []TransmissionRecord
	maxSize int
}

// NewTransmissionLog creates a log holding at most maxSize records
func NewTransmissionLog(maxSize int) *TransmissionLog {
	return &TransmissionLog{
		records: make([]TransmissionRecord, 0, maxSize),
		maxSize: maxSize,
	}
}

// Add appends a record, dropping the oldest once full
func (tl *TransmissionLog) Add(record TransmissionRecord) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	tl.records = append(tl.records, record)
	if len(tl.records) > tl.maxSize {
		tl.records = tl.records[len(tl.records)-tl.maxSize:]
	}
}

// Recent returns up to n records, newest first
func (tl *TransmissionLog) Recent(n int) []TransmissionRecord {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	if n <= 0 || n > len(tl.records) {
		n = len(tl.records)
	}

	out := make([]TransmissionRecord, n)
	for i := 0; i < n; i++ {
		out[i] = tl.records[len(tl.records)-1-i]
	}
	return out
}

// Count returns the number of records held
func (tl *TransmissionLog) Count() int {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return len(tl.records)
}
