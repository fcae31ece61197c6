package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	context_ "github.com/mkrupp/escrowgate/internal/infra/context"
	"github.com/mkrupp/escrowgate/internal/infra/logging"
)

//nolint:paralleltest
func TestGetLogger_JSON(t *testing.T) {
	var buf bytes.Buffer

	logging.Configure(context.Background(), logging.LoggerConfig{
		Level:        "info",
		JSON:         true,
		OutputHandle: &buf,
	}, "escrow.test")

	ctx := context_.WithTabID(context_.WithTraceID(context.Background(), "trace-1"), "tab-1")

	log := logging.GetLogger("svc.sessionsvc")
	log.DebugContext(ctx, "hidden")
	log.InfoContext(ctx, "visible", "k", "v")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if rec["logger"] != "svc.sessionsvc" || rec["app"] != "escrow.test" || rec["msg"] != "visible" {
		t.Errorf("unexpected record %v", rec)
	}

	trace, _ := rec["trace"].(map[string]any)
	tab, _ := rec["tab"].(map[string]any)

	if trace["id"] != "trace-1" || tab["id"] != "tab-1" {
		t.Errorf("trace/tab not attached: %v", rec)
	}
}

//nolint:paralleltest
func TestGetLogger_ConsoleFilter(t *testing.T) {
	var buf bytes.Buffer

	logging.Configure(context.Background(), logging.LoggerConfig{
		Level:        "warn",
		Filter:       "svc.sessionsvc:debug",
		OutputHandle: &buf,
	}, "escrow.test")

	logging.GetLogger("svc.sessionsvc.gate").Debug("gate debug")
	logging.GetLogger("svc.webfront").Info("webfront info")

	out := buf.String()

	if !strings.Contains(out, "gate debug") {
		t.Errorf("package override did not admit debug record: %q", out)
	}

	if strings.Contains(out, "webfront info") {
		t.Errorf("global level did not filter info record: %q", out)
	}
}

//nolint:paralleltest
func TestGetLogger_Discard(t *testing.T) {
	logging.Configure(context.Background(), logging.LoggerConfig{Output: "discard"}, "escrow.test")

	// must not panic
	logging.GetLogger("any").Error("dropped")
}
