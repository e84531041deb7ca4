package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestHumanFormatSuccess(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer

	result := &Result{
		Success: true,
		Command: "session",
		Action:  "create",
		Data:    map[string]any{"id": "sess-1", "name": "research"},
	}

	h := &HumanFormatter{}
	if err := h.Format(&buf, result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "[OK]") {
		t.Errorf("expected success indicator in output, got: %s", out)
	}
	if !strings.Contains(out, "session create") {
		t.Errorf("expected command/action in output, got: %s", out)
	}
	if !strings.Contains(out, "id: sess-1") {
		t.Errorf("expected sorted data key in output, got: %s", out)
	}
}

func TestHumanFormatError(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer

	result := &Result{
		Success: false,
		Command: "workflow",
		Action:  "init",
		Error:   "session not found",
	}

	h := &HumanFormatter{}
	if err := h.Format(&buf, result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "[Error]") {
		t.Errorf("expected error indicator in output, got: %s", out)
	}
	if !strings.Contains(out, "session not found") {
		t.Errorf("expected error message in output, got: %s", out)
	}
}

func TestHumanFormatTextContent(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer

	result := &Result{
		Success:     true,
		Command:     "tool",
		Action:      "observe.logs",
		TextContent: "5 log entries found\n[error] test error",
	}

	h := &HumanFormatter{}
	if err := h.Format(&buf, result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "5 log entries found") {
		t.Errorf("expected text content in output, got: %s", out)
	}
}

func TestJSONFormatSuccess(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer

	result := &Result{
		Success: true,
		Command: "workflow",
		Action:  "status",
		Data:    map[string]any{"allDone": true, "completed": float64(2)},
	}

	f := &JSONFormatter{}
	if err := f.Format(&buf, result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("output is not valid JSON: %v\nOutput: %s", err, buf.String())
	}
	if parsed["success"] != true {
		t.Errorf("expected success=true in JSON, got: %v", parsed["success"])
	}
	if parsed["allDone"] != true {
		t.Errorf("expected data merged into top level, got: %v", parsed)
	}
}

func TestJSONFormatError(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer

	result := &Result{
		Success: false,
		Command: "session",
		Action:  "delete",
		Error:   "session not found",
	}

	f := &JSONFormatter{}
	if err := f.Format(&buf, result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if parsed["success"] != false {
		t.Errorf("expected success=false, got: %v", parsed["success"])
	}
	if parsed["error"] != "session not found" {
		t.Errorf("expected error message, got: %v", parsed["error"])
	}
}

func TestCSVFormatSingleRow(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer

	result := &Result{
		Success: true,
		Command: "session",
		Action:  "list",
		Data:    map[string]any{"count": 3},
	}

	f := &CSVFormatter{}
	if err := f.Format(&buf, result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected at least header + 1 data row, got %d lines", len(lines))
	}
	if !strings.Contains(lines[0], "success") {
		t.Errorf("expected header row with success column, got: %s", lines[0])
	}
}

func TestCSVFormatMultiple(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer

	results := []*Result{
		{Success: true, Command: "workflow", Action: "status", Data: map[string]any{"completed": 1}},
		{Success: false, Command: "workflow", Action: "status", Error: "timeout", Data: map[string]any{"completed": 0}},
	}

	f := &CSVFormatter{}
	if err := f.FormatMultiple(&buf, results); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines: %q", len(lines), lines)
	}
}

func TestGetFormatter(t *testing.T) {
	t.Parallel()

	for _, format := range []string{"human", "json", "csv", "xml"} {
		if f := GetFormatter(format); f == nil {
			t.Errorf("GetFormatter(%q) returned nil", format)
		}
	}
}
