package connlog

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New("warn", "json", &buf)

	log.Info().Msg("should be filtered")
	if buf.Len() != 0 {
		t.Errorf("info log should be suppressed at warn level, got %q", buf.String())
	}

	log.Warn().Msg("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Errorf("warn log missing from output: %q", buf.String())
	}
}

func TestNewInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New("not-a-level", "json", &buf)
	log.Info().Msg("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Error("expected info-level output with an invalid level string")
	}
}

func TestNewConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New("info", "console", &buf)
	log.Info().Msg("hello")
	if buf.Len() == 0 {
		t.Error("expected console output to be written")
	}
}
