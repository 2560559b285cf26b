package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// doneToken is an already completed publish
type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// recordingClient captures publishes; other mqtt.Client methods are unused
type recordingClient struct {
	mqtt.Client

	mu        sync.Mutex
	connected bool
	messages  []published
}

func (c *recordingClient) IsConnected() bool { return c.connected }

func (c *recordingClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic, qos, retained, payload.([]byte)})
	return doneToken{}
}

func (c *recordingClient) sent() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...)
}

func TestPublishTransmission(t *testing.T) {
	client := &recordingClient{connected: true}
	mp := &MQTTPublisher{
		client: client,
		config: &MQTTConfig{TopicPrefix: "station", QoS: 1},
	}

	mp.PublishTransmission(TransmissionRecord{
		ID:        "abc",
		Timestamp: time.Unix(1700000000, 0),
		Mode:      "PD120",
		VIS:       "0x5F",
		Target:    TargetFile,
		Duration:  126.1,
		Country:   "GB",
	})

	msgs := client.sent()
	if len(msgs) != 1 {
		t.Fatalf("%d messages", len(msgs))
	}
	if msgs[0].topic != "station/transmissions" || msgs[0].qos != 1 || msgs[0].retained {
		t.Errorf("published %+v", msgs[0])
	}

	var payload TransmissionPayload
	if err := json.Unmarshal(msgs[0].payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.ID != "abc" || payload.Timestamp != 1700000000 || payload.Mode != "PD120" || payload.Country != "GB" {
		t.Errorf("payload %+v", payload)
	}

	// Nothing is queued while the broker is away
	client.connected = false
	mp.PublishTransmission(TransmissionRecord{ID: "def"})
	if len(client.sent()) != 1 {
		t.Error("published while disconnected")
	}

	var nilPublisher *MQTTPublisher
	nilPublisher.PublishTransmission(TransmissionRecord{ID: "ghi"})
}

func TestPublishMetrics(t *testing.T) {
	client := &recordingClient{connected: true}
	metrics := newTestMetrics()
	metrics.RecordEncode("S1", TargetLive, time.Second, 110)

	mp := &MQTTPublisher{
		client:  client,
		config:  &MQTTConfig{TopicPrefix: "sstv", Retain: true},
		metrics: metrics,
	}
	mp.publishMetrics()

	msgs := client.sent()
	if len(msgs) != 1 || msgs[0].topic != "sstv/metrics" || !msgs[0].retained {
		t.Fatalf("published %+v", msgs)
	}
	var payload MetricPayload
	if err := json.Unmarshal(msgs[0].payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Metrics["sstv_encodes_total{mode=S1,target=live}"] != 1 {
		t.Errorf("metrics %v", payload.Metrics)
	}
}

func TestLoadTLSConfig(t *testing.T) {
	if cfg, err := loadTLSConfig(MQTTTLSConfig{}); cfg != nil || err != nil {
		t.Errorf("disabled TLS = %v, %v", cfg, err)
	}

	if _, err := loadTLSConfig(MQTTTLSConfig{Enabled: true, CACert: "/nonexistent/ca.pem"}); err == nil {
		t.Error("missing CA accepted")
	}

	bad := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(bad, []byte("not a certificate"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadTLSConfig(MQTTTLSConfig{Enabled: true, CACert: bad}); err == nil {
		t.Error("garbage CA accepted")
	}
}
