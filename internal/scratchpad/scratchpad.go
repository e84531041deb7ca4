// Package scratchpad persists per-worker and orchestration state as
// markdown files with an embedded fenced JSON block (spec component F).
// The markdown body is for humans skimming a run; the trailing JSON block
// is the canonical, machine-read state.
package scratchpad

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/brennhill/tabfleet/internal/redaction"
)

const (
	maxWorkerNameLen   = 100
	maxProgressEntries = 500
	orchestrationFile  = "orchestration.md"
	dirPerm            = 0o755
	filePerm           = 0o644
)

// ProgressEntry is one line of a worker's progressLog.
type ProgressEntry struct {
	Action string `json:"action"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// WorkerState is the canonical JSON block a worker scratchpad file embeds.
type WorkerState struct {
	Name        string          `json:"name"`
	Status      string          `json:"status"`
	ProgressLog []ProgressEntry `json:"progressLog"`
	Extra       json.RawMessage `json:"extra,omitempty"`
}

// Store is a filesystem-backed markdown+JSON scratchpad directory.
type Store struct {
	baseDir  string
	redactor *redaction.RedactionEngine
	log      *zap.Logger
}

// New creates a Store rooted at baseDir, creating it if necessary.
func New(baseDir string, redactor *redaction.RedactionEngine, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(baseDir, dirPerm); err != nil {
		return nil, fmt.Errorf("scratchpad: create base dir: %w", err)
	}
	return &Store{baseDir: baseDir, redactor: redactor, log: log.Named("scratchpad")}, nil
}

// validNameChars allows ASCII word characters plus the non-ASCII scripts
// the worker-name safety check names explicitly (spec §4.F): Hangul, CJK,
// Cyrillic, Arabic.
var validNameChars = regexp.MustCompile(`^[A-Za-z0-9_\-\p{Hangul}\p{Han}\p{Cyrillic}\p{Arabic}]+$`)

// validateWorkerName applies the spec §4.F safety check. A failing name
// makes all file operations on it no-ops (callers check the returned bool).
func validateWorkerName(name string) bool {
	if name == "" || len(name) > maxWorkerNameLen {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return false
		}
	}
	return validNameChars.MatchString(name)
}

func (s *Store) workerPath(name string) (string, bool) {
	if !validateWorkerName(name) {
		return "", false
	}
	return filepath.Join(s.baseDir, "worker-"+name+".md"), true
}

func (s *Store) orchestrationPath() string {
	return filepath.Join(s.baseDir, orchestrationFile)
}

var fencedJSONBlock = regexp.MustCompile("(?s)```json\\s*\\n(.*?)\\n```")

// lastFencedJSON returns the contents of the last ```json fenced block in
// doc. A worker file may contain an earlier extracted-data block followed
// by the raw-state block; only the last is canonical (spec §4.F).
func lastFencedJSON(doc string) (string, bool) {
	matches := fencedJSONBlock.FindAllStringSubmatch(doc, -1)
	if len(matches) == 0 {
		return "", false
	}
	return matches[len(matches)-1][1], true
}

func renderMarkdown(title string, state any) (string, error) {
	body, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return "", fmt.Errorf("scratchpad: marshal state: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n```json\n%s\n```\n", title, string(body))
	return b.String(), nil
}

// WriteWorker overwrites the worker file with a single write call. A name
// that fails the safety check is a logged no-op, not an error (spec §4.F).
func (s *Store) WriteWorker(name string, state WorkerState) bool {
	path, ok := s.workerPath(name)
	if !ok {
		s.log.Warn("rejected unsafe worker name on write", zap.String("name", name))
		return false
	}
	doc, err := renderMarkdown("Worker: "+name, state)
	if err != nil {
		s.log.Error("render worker markdown failed", zap.String("name", name), zap.Error(err))
		return false
	}
	if s.redactor != nil {
		doc = s.redactor.Redact(doc)
	}
	if err := os.WriteFile(path, []byte(doc), filePerm); err != nil {
		s.log.Error("write worker scratchpad failed", zap.String("name", name), zap.Error(err))
		return false
	}
	return true
}

// ReadWorker parses the last fenced JSON block out of the worker's file.
// Missing file, unsafe name, or unparseable content all resolve to
// (WorkerState{}, false); this never returns an error (spec §4.F).
func (s *Store) ReadWorker(name string) (WorkerState, bool) {
	path, ok := s.workerPath(name)
	if !ok {
		return WorkerState{}, false
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return WorkerState{}, false
	}
	block, ok := lastFencedJSON(string(raw))
	if !ok {
		return WorkerState{}, false
	}
	var state WorkerState
	if err := json.Unmarshal([]byte(block), &state); err != nil {
		return WorkerState{}, false
	}
	return state, true
}

// AddProgressEntry is a read-modify-write that appends to progressLog and
// truncates from the head past maxProgressEntries (spec §4.F bounded
// growth). Returns false if the worker name is unsafe.
func (s *Store) AddProgressEntry(name, action, result, errText string) bool {
	state, existed := s.ReadWorker(name)
	if !existed {
		state = WorkerState{Name: name, Status: "running"}
	}
	state.ProgressLog = append(state.ProgressLog, ProgressEntry{Action: action, Result: result, Error: errText})
	if overflow := len(state.ProgressLog) - maxProgressEntries; overflow > 0 {
		state.ProgressLog = state.ProgressLog[overflow:]
	}
	return s.WriteWorker(name, state)
}

// OrchestrationState is the canonical JSON block orchestration.md embeds.
type OrchestrationState struct {
	JobID        string          `json:"jobId"`
	WorkerNames  []string        `json:"workerNames"`
	StartedAtMs  int64           `json:"startedAtMs"`
	CompletedCnt int             `json:"completedCount"`
	TotalCnt     int             `json:"totalCount"`
	Status       string          `json:"status"`
	Extra        json.RawMessage `json:"extra,omitempty"`
}

// WriteOrchestration overwrites orchestration.md.
func (s *Store) WriteOrchestration(state OrchestrationState) error {
	doc, err := renderMarkdown("Orchestration", state)
	if err != nil {
		return err
	}
	if s.redactor != nil {
		doc = s.redactor.Redact(doc)
	}
	if err := os.WriteFile(s.orchestrationPath(), []byte(doc), filePerm); err != nil {
		return fmt.Errorf("scratchpad: write orchestration: %w", err)
	}
	return nil
}

// ReadOrchestration parses orchestration.md the same way ReadWorker does.
func (s *Store) ReadOrchestration() (OrchestrationState, bool) {
	raw, err := os.ReadFile(s.orchestrationPath())
	if err != nil {
		return OrchestrationState{}, false
	}
	block, ok := lastFencedJSON(string(raw))
	if !ok {
		return OrchestrationState{}, false
	}
	var state OrchestrationState
	if err := json.Unmarshal([]byte(block), &state); err != nil {
		return OrchestrationState{}, false
	}
	return state, true
}

// Cleanup deletes every file directly under baseDir.
func (s *Store) Cleanup() error {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return fmt.Errorf("scratchpad: read base dir: %w", err)
	}
	var firstErr error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.baseDir, entry.Name())); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
