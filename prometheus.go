package main

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// metricPrefix is shared by every collector this service registers
const metricPrefix = "sstv_"

// PrometheusMetrics holds all Prometheus metric collectors for the encoder
type PrometheusMetrics struct {
	gatherer prometheus.Gatherer

	// Encoder metrics
	encodesTotal       *prometheus.CounterVec   // Completed encodes (by mode, target)
	encodeErrors       *prometheus.CounterVec   // Failed encodes (by reason)
	encodeDuration     *prometheus.HistogramVec // Wall time spent encoding (by mode)
	transmittedSeconds *prometheus.CounterVec   // Seconds of SSTV audio produced (by mode)
	transmitting       prometheus.Gauge         // 1 while PTT is keyed or RTP is streaming

	// WebSocket metrics
	wsActiveConnections prometheus.Gauge
	wsMessagesSent      *prometheus.CounterVec // by message type

	// Error metrics
	rateLimited prometheus.Counter // HTTP 429 responses
	trackedIPs  prometheus.Gauge   // IPs holding a rate limiter bucket

	// Resource metrics
	goroutineCount   prometheus.Gauge
	memoryAllocBytes prometheus.Gauge
	hostCPUPercent   prometheus.Gauge
	hostMemPercent   prometheus.Gauge
}

// NewPrometheusMetrics registers the collectors with reg and reads them back
// through gatherer for snapshots
func NewPrometheusMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		gatherer: gatherer,

		encodesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sstv_encodes_total",
				Help: "Total completed SSTV encodes",
			},
			[]string{"mode", "target"},
		),
		encodeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sstv_encode_errors_total",
				Help: "Total failed SSTV encode requests",
			},
			[]string{"reason"},
		),
		encodeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sstv_encode_duration_seconds",
				Help:    "Time spent turning an image into a transmission",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"mode"},
		),
		transmittedSeconds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sstv_transmitted_seconds_total",
				Help: "Seconds of SSTV audio produced",
			},
			[]string{"mode"},
		),
		transmitting: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sstv_transmitting",
				Help: "1 while the transmitter is keyed",
			},
		),
		wsActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sstv_ws_active_connections",
				Help: "Currently open transmit websockets",
			},
		),
		wsMessagesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sstv_ws_messages_sent_total",
				Help: "Websocket messages sent (by type)",
			},
			[]string{"type"},
		),
		rateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sstv_rate_limited_total",
				Help: "Requests rejected by the per-IP rate limiter",
			},
		),
		trackedIPs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sstv_rate_limiter_tracked_ips",
				Help: "Client IPs currently tracked by the rate limiter",
			},
		),
		goroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sstv_goroutines",
				Help: "Number of goroutines",
			},
		),
		memoryAllocBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sstv_memory_alloc_bytes",
				Help: "Bytes of allocated heap objects",
			},
		),
		hostCPUPercent: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sstv_host_cpu_percent",
				Help: "Host CPU utilisation",
			},
		),
		hostMemPercent: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sstv_host_memory_percent",
				Help: "Host memory utilisation",
			},
		),
	}
}

func (pm *PrometheusMetrics) RecordEncode(mode, target string, elapsed time.Duration, audioSeconds float64) {
	if pm == nil {
		return
	}
	pm.encodesTotal.WithLabelValues(mode, target).Inc()
	pm.encodeDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	pm.transmittedSeconds.WithLabelValues(mode).Add(audioSeconds)
}

func (pm *PrometheusMetrics) RecordEncodeError(reason string) {
	if pm == nil {
		return
	}
	pm.encodeErrors.WithLabelValues(reason).Inc()
}

func (pm *PrometheusMetrics) SetTransmitting(on bool) {
	if pm == nil {
		return
	}
	if on {
		pm.transmitting.Set(1)
	} else {
		pm.transmitting.Set(0)
	}
}

func (pm *PrometheusMetrics) RecordWSConnection() {
	if pm == nil {
		return
	}
	pm.wsActiveConnections.Inc()
}

func (pm *PrometheusMetrics) RecordWSDisconnect() {
	if pm == nil {
		return
	}
	pm.wsActiveConnections.Dec()
}

func (pm *PrometheusMetrics) RecordWSMessageSent(msgType string) {
	if pm == nil {
		return
	}
	pm.wsMessagesSent.WithLabelValues(msgType).Inc()
}

func (pm *PrometheusMetrics) RecordRateLimited() {
	if pm == nil {
		return
	}
	pm.rateLimited.Inc()
}

func (pm *PrometheusMetrics) SetRateLimiterIPs(n int) {
	if pm == nil {
		return
	}
	pm.trackedIPs.Set(float64(n))
}

// StartResourceMonitor refreshes the resource gauges until ctx is done
func (pm *PrometheusMetrics) StartResourceMonitor(ctx context.Context, interval time.Duration) {
	if pm == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		pm.updateResourceMetrics()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pm.updateResourceMetrics()
			}
		}
	}()
}

func (pm *PrometheusMetrics) updateResourceMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	pm.goroutineCount.Set(float64(runtime.NumGoroutine()))
	pm.memoryAllocBytes.Set(float64(m.Alloc))

	// Host figures are best effort; some containers hide /proc
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		pm.hostCPUPercent.Set(percents[0])
	} else if err != nil && DebugMode {
		log.Printf("DEBUG: cpu.Percent failed: %v", err)
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		pm.hostMemPercent.Set(vm.UsedPercent)
	} else if DebugMode {
		log.Printf("DEBUG: mem.VirtualMemory failed: %v", err)
	}
}

// Snapshot gathers this service's metrics into a flat map. Labelled series
// are keyed as name{label=value,...} with labels in name order; histograms
// report their sample sum.
func (pm *PrometheusMetrics) Snapshot() (map[string]float64, error) {
	if pm == nil {
		return nil, fmt.Errorf("prometheus metrics not initialized")
	}

	families, err := pm.gatherer.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}

	out := make(map[string]float64)
	for _, mf := range families {
		name := mf.GetName()
		if !strings.HasPrefix(name, metricPrefix) {
			continue
		}
		for _, m := range mf.GetMetric() {
			value, ok := extractMetricValue(m)
			if !ok {
				continue
			}
			out[seriesKey(name, m.GetLabel())] = value
		}
	}
	return out, nil
}

// extractMetricValue extracts the numeric value from a Prometheus metric
func extractMetricValue(m *dto.Metric) (float64, bool) {
	switch {
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue(), true
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue(), true
	case m.GetHistogram() != nil:
		return m.GetHistogram().GetSampleSum(), true
	case m.GetSummary() != nil:
		return m.GetSummary().GetSampleSum(), true
	}
	return 0, false
}

func seriesKey(name string, labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return name
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, l.GetName()+"="+l.GetValue())
	}
	sort.Strings(parts)
	return name + "{" + strings.Join(parts, ",") + "}"
}

// StartPushgatewayWorker periodically pushes the gathered metrics when
// configured
func (pm *PrometheusMetrics) StartPushgatewayWorker(ctx context.Context, config PushgatewayConfig) {
	if pm == nil || !config.Enabled {
		return
	}
	if config.URL == "" {
		log.Println("[Prometheus] Pushgateway enabled but url missing, skipping push worker")
		return
	}

	log.Printf("[Prometheus] Starting Pushgateway worker: URL=%s, Job=%s, Interval=%ds",
		config.URL, config.Job, config.Interval)

	go func() {
		ticker := time.NewTicker(time.Duration(config.Interval) * time.Second)
		defer ticker.Stop()

		for {
			if err := pm.pushToGateway(ctx, config); err != nil {
				log.Printf("[Prometheus] ERROR: Failed to push metrics to Pushgateway: %v", err)
			} else if DebugMode {
				log.Printf("DEBUG: Successfully pushed metrics to Pushgateway")
			}

			select {
			case <-ctx.Done():
				log.Println("[Prometheus] Pushgateway worker stopped")
				return
			case <-ticker.C:
			}
		}
	}()
}

func (pm *PrometheusMetrics) pushToGateway(ctx context.Context, config PushgatewayConfig) error {
	pusher := push.New(config.URL, config.Job).Gatherer(pm.gatherer)
	if config.Instance != "" {
		pusher = pusher.Grouping("instance", config.Instance)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push to gateway: %w", err)
	}
	return nil
}
