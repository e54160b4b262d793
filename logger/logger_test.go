package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureEnvOverridesLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")

	log := Logger()
	if err := log.Configure("warn", "text", "stderr", 0); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if log.GetLevel() != logrus.DebugLevel {
		t.Fatalf("level = %s, want debug", log.GetLevel())
	}
}

func TestConfigureFileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	path := filepath.Join(t.TempDir(), "worker.log")
	log := Logger()
	if err := log.Configure("info", "json", path, 0); err != nil {
		t.Fatalf("configure: %v", err)
	}
	log.WithComponent("test").Info("hello")
}

func TestJSONMessageKeys(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)
	log.WithComponent("stream").WithField("attempt", 2).Info("reconnecting")

	var out map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if out["message"] != "reconnecting" {
		t.Fatalf("message = %v", out["message"])
	}
	if out["component"] != "stream" {
		t.Fatalf("component = %v", out["component"])
	}
	if _, ok := out["timestamp"]; !ok {
		t.Fatalf("timestamp key missing: %v", out)
	}
}

func TestLogDataFlowEntryFields(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)
	log.SetLevel(logrus.DebugLevel)

	LogDataFlowEntry(log.WithComponent("aggregator"), "binance", "redis", 50, "orderbook")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["message"] != "data flow metric" || line["flow_type"] != "data_flow" {
		t.Fatalf("unexpected line: %v", line)
	}
	if line["source"] != "binance" || line["destination"] != "redis" || line["record_count"] != 50.0 || line["data_type"] != "orderbook" {
		t.Fatalf("unexpected flow fields: %v", line)
	}
}
