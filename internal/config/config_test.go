package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("MESSAGE_MAX_LENGTH", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Messaging.MaxMessageLength != 1000 {
		t.Fatalf("expected default max length 1000, got %d", cfg.Messaging.MaxMessageLength)
	}
	if cfg.Messaging.PageSize != 50 {
		t.Fatalf("expected default page size 50, got %d", cfg.Messaging.PageSize)
	}
	if !cfg.Messaging.RejectOwnName {
		t.Fatalf("expected own-name rule enabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("WS_PING_PERIOD", "5s")
	t.Setenv("MESSAGE_REJECT_OWN_NAME", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.WebSocket.PingPeriod != 5*time.Second {
		t.Fatalf("unexpected ping period: %v", cfg.WebSocket.PingPeriod)
	}
	if cfg.Messaging.RejectOwnName {
		t.Fatalf("expected own-name rule disabled")
	}
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidateRejectsPingSlowerThanPong(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("WS_PING_PERIOD", "90s")
	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidateRejectsNonPositiveWebSocketTimers(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"zero ping", "WS_PING_PERIOD", "0s"},
		{"negative ping", "WS_PING_PERIOD", "-1s"},
		{"zero write wait", "WS_WRITE_WAIT", "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STORE_DRIVER", "memory")
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected validation error for %s=%s", tt.key, tt.value)
			}
		})
	}
}
