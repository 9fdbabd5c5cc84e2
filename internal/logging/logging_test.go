package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "warn"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("component", "report").Msg("visible")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("只应输出 warn 级别日志, 实际 %d 行", len(lines))
	}
	entry := make(map[string]any)
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("日志不是合法 JSON: %v", err)
	}
	if entry["component"] != "report" || entry["message"] != "visible" {
		t.Fatalf("unexpected entry %#v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Fatalf("缺少时间戳字段: %#v", entry)
	}
}

func TestNewLoggerConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "debug", Format: "console"}, &buf)
	logger.Debug().Msg("hello")

	if !strings.Contains(buf.String(), "hello") || strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("console 格式输出不正确: %q", buf.String())
	}
}

func TestUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "loud"}, &buf)
	logger.Debug().Msg("dropped")
	logger.Info().Msg("kept")
	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "kept") {
		t.Fatalf("未知级别应回退到 info: %q", buf.String())
	}
}
