package common

import (
	"bytes"
	"github.com/ValentinKolb/sgkv/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logger.LogLevel
		wantErr bool
	}{
		{"debug", logger.DEBUG, false},
		{"INFO", logger.INFO, false},
		{"warn", logger.WARNING, false},
		{"warning", logger.WARNING, false},
		{"error", logger.ERROR, false},
		{"verbose", logger.INFO, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	old := logOutput
	logOutput = &buf
	defer func() { logOutput = old }()

	l := CreateLogger("datastore")
	l.SetLevel(logger.WARNING)
	l.Debugf("hidden %d", 1)
	l.Infof("hidden %d", 2)
	l.Warningf("shown %d", 3)
	l.Errorf("shown %d", 4)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("lines below the level should be dropped, got %q", out)
	}
	if !strings.Contains(out, "WARN  datastore: shown 3") || !strings.Contains(out, "ERROR datastore: shown 4") {
		t.Errorf("unexpected output %q", out)
	}

	defer func() {
		if r := recover(); r != "boom 5" {
			t.Errorf("Panicf should panic with the message, got %v", r)
		}
	}()
	l.SetLevel(logger.ERROR)
	l.Panicf("boom %d", 5)
}

func TestInitLoggersTwice(t *testing.T) {
	if err := InitLoggers("info"); err != nil {
		t.Fatal(err)
	}
	if err := InitLoggers("error"); err != nil {
		t.Fatalf("changing the level should work, got %v", err)
	}
	if err := InitLoggers("loud"); err == nil {
		t.Error("invalid level should be rejected")
	}
}

func TestConfigValidate(t *testing.T) {
	valid := Config{NumSlots: 4, NumEvents: 100, ObjectsPerEvent: 8, UpdateEvery: 10, LogLevel: "info"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"no slots", func(c *Config) { c.NumSlots = 0 }},
		{"negative events", func(c *Config) { c.NumEvents = -1 }},
		{"no objects", func(c *Config) { c.ObjectsPerEvent = 0 }},
		{"negative update interval", func(c *Config) { c.UpdateEvery = -5 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.modify(&c)
			if err := c.Validate(); store.CodeOf(err) != store.RetCInvalidOperation {
				t.Errorf("expected InvalidOperation, got %v", err)
			}
		})
	}
}

func TestConfigString(t *testing.T) {
	c := Config{RunID: "abc", NumSlots: 2, NumEvents: 10, ObjectsPerEvent: 1, LogLevel: "warn"}
	out := c.String()
	for _, want := range []string{"EVENT LOOP", "abc", "never", "warn"} {
		if !strings.Contains(out, want) {
			t.Errorf("report should contain %q:\n%s", want, out)
		}
	}
}
