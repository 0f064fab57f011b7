package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestLevelsAndFormatting(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelWarn)
	t.Cleanup(func() { SetLevel(LevelInfo) })

	Info("hidden", "k", "v")
	Warn("dropped item", "id", "42", "reason", "bad date")
	Error("sync failed", errors.New("boom"), "op", "fetch", "odd")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info logged below warn level: %s", out)
	}
	if !strings.Contains(out, `[WARN] dropped item id=42 reason="bad date"`) {
		t.Fatalf("warn line: %s", out)
	}
	if !strings.Contains(out, "[ERROR] sync failed err=boom op=fetch\n") {
		t.Fatalf("error line: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("warning") != LevelWarn || ParseLevel("debug") != LevelDebug || ParseLevel("??") != LevelInfo {
		t.Fatalf("ParseLevel")
	}
}
