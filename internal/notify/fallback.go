package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/example/shift-scheduler/internal/errors"
	"github.com/example/shift-scheduler/internal/fsutil"
)

// Fallback appends undeliverable events to a local JSON-lines file.
type Fallback struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
	log  *zap.SugaredLogger
	now  func() time.Time
}

func NewFallback(fs afero.Fs, path string, log *zap.SugaredLogger) *Fallback {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Fallback{fs: fs, path: path, log: log, now: time.Now}
}

type fallbackLine struct {
	Event
	Error    string    `json:"error,omitempty"`
	LoggedAt time.Time `json:"logged_at"`
}

// Write records e with the reason it could not be delivered. Failures to
// write are logged and otherwise ignored.
func (f *Fallback) Write(e Event, cause error) {
	line := fallbackLine{Event: e, LoggedAt: f.now()}
	if cause != nil {
		line.Error = cause.Error()
	}
	data, err := json.Marshal(line)
	if err != nil {
		f.log.Errorw("encode fallback notification", "kind", e.Kind, "error", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := fsutil.AppendLine(f.fs, f.path, data); err != nil {
		f.log.Errorw("notification lost", "kind", e.Kind, "title", e.Title, "error", err)
	}
}

// LogSender is the transport used when no webhook is configured: events are
// written to the structured log.
type LogSender struct {
	Log *zap.SugaredLogger
}

func (s LogSender) Send(_ context.Context, e Event) error {
	if s.Log == nil {
		return errors.New("log sender without logger")
	}
	kv := []interface{}{"kind", e.Kind, "title", e.Title, "message", e.Message}
	for _, fld := range e.Fields {
		kv = append(kv, fld.Name, fld.Value)
	}
	if e.Urgent {
		s.Log.Warnw("notification", kv...)
	} else {
		s.Log.Infow("notification", kv...)
	}
	return nil
}
