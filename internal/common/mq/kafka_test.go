package mq

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestParseCompression(t *testing.T) {
	cases := map[string]kafka.Compression{
		"":     0,
		"none": 0,
		"gzip": kafka.Gzip,
		"ZSTD": kafka.Zstd,
		"lz4":  kafka.Lz4,
	}
	for name, want := range cases {
		got, err := parseCompression(name)
		if err != nil || got != want {
			t.Fatalf("parseCompression(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := parseCompression("brotli"); err == nil {
		t.Fatalf("expected unknown codec error")
	}
}

func TestKafkaMessageRoundTripKeepsMetadata(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := NewMessage("duel-1", []byte(`{"duel_id":"duel-1"}`))
	msg.ID = "m-1"
	msg.Timestamp = ts
	msg.RetryCount = 2
	msg.SetHeader("x-record-type", "duel")

	km := toKafkaMessage("duel.records", msg)
	if string(km.Key) != "duel-1" || km.Topic != "duel.records" {
		t.Fatalf("unexpected kafka message: key=%s topic=%s", km.Key, km.Topic)
	}

	back := fromKafkaMessage(km)
	if back.ID != "m-1" || back.RetryCount != 2 || !back.Timestamp.Equal(ts) {
		t.Fatalf("metadata lost: %+v", back)
	}
	if v, ok := back.GetHeader("x-record-type"); !ok || v != "duel" {
		t.Fatalf("expected record type header, got %q %v", v, ok)
	}
	if _, ok := back.GetHeader(headerID); ok {
		t.Fatalf("internal headers must not leak into Headers")
	}
}

func TestKeyFallsBackToID(t *testing.T) {
	msg := &Message{ID: "only-id", Body: []byte("x")}
	if km := toKafkaMessage("t", msg); string(km.Key) != "only-id" {
		t.Fatalf("expected id as key, got %q", km.Key)
	}
}

func TestSubscribeOptionsDefaults(t *testing.T) {
	var opts SubscribeOptions
	opts.SetDefaults()
	if opts.Concurrency != 1 || opts.MaxRetries != 3 || opts.RetryDelay != time.Second {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
}

func TestNewKafkaQueueValidates(t *testing.T) {
	if _, err := NewKafkaQueue(KafkaConfig{}); err == nil {
		t.Fatalf("expected brokers required")
	}
	if _, err := NewKafkaQueue(KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, Compression: "nope"}); err == nil {
		t.Fatalf("expected compression error")
	}
}
