// Package audit writes the append-only orchestrator event log: one JSON
// object per line. Write failures are never fatal.
package audit

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/laurentenhoor/devclaw/internal/logging"
)

// Log appends events to a JSONL file.
type Log struct {
	path string
	mu   sync.Mutex
	log  *slog.Logger

	now func() time.Time
}

// New creates an audit log under the workspace.
func New(workspace string) *Log {
	return &Log{
		path: filepath.Join(workspace, "logs", "audit.jsonl"),
		log:  logging.WithComponent("audit"),
		now:  time.Now,
	}
}

// Record appends one event. Extra fields merge into the record at top level;
// "ts", "event" and "id" are reserved.
func (l *Log) Record(event string, fields map[string]any) {
	rec := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		rec[k] = v
	}
	rec["ts"] = l.now().UTC().Format(time.RFC3339Nano)
	rec["event"] = event
	rec["id"] = uuid.NewString()

	data, err := json.Marshal(rec)
	if err != nil {
		l.log.Warn("failed to marshal audit record", "event", event, "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		l.log.Warn("failed to create audit directory", "error", err)
		return
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		l.log.Warn("failed to open audit log", "error", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		l.log.Warn("failed to append audit record", "event", event, "error", err)
	}
}
