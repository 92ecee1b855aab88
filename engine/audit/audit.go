// Package audit is the append-only execution log of one task instance.
// Values registered as sensitive are masked out of every subsequent entry
// before it is persisted; registration therefore has to happen before the
// first write that could carry the value.
package audit

import (
	"context"
	"strings"
	"time"

	"github.com/cloudsidekick/cato/pkg/logger"
)

const mask = "********"

// Entry is one audit row. StepID is empty for engine-level events.
type Entry struct {
	InstanceID int64
	StepID     string
	ConnName   string
	Command    string
	Body       string
	At         time.Time
}

// Writer persists entries; implemented by the instance log repository.
type Writer interface {
	WriteEntry(ctx context.Context, e *Entry) error
}

// Log collects entries for one instance. The engine is single-threaded per
// instance, so no locking is needed.
type Log struct {
	w          Writer
	instanceID int64
	sensitive  []string
}

func New(w Writer, instanceID int64) *Log {
	return &Log{w: w, instanceID: instanceID}
}

// AddSensitive registers a value to be masked from every later entry.
// Empty and trivially short values are ignored: masking one- or two-byte
// strings would shred unrelated text.
func (l *Log) AddSensitive(value string) {
	if len(value) < 3 {
		return
	}
	for _, s := range l.sensitive {
		if s == value {
			return
		}
	}
	l.sensitive = append(l.sensitive, value)
}

// Redact replaces every registered sensitive value in s with the mask.
func (l *Log) Redact(s string) string {
	for _, v := range l.sensitive {
		s = strings.ReplaceAll(s, v, mask)
	}
	return s
}

// Write appends an entry. A persistence failure is logged and swallowed: the
// audit trail is best-effort, the run itself must not die because a log row
// did not land.
func (l *Log) Write(ctx context.Context, stepID, connName, command, body string) {
	e := &Entry{
		InstanceID: l.instanceID,
		StepID:     stepID,
		ConnName:   connName,
		Command:    command,
		Body:       l.Redact(body),
		At:         time.Now().UTC(),
	}
	if err := l.w.WriteEntry(ctx, e); err != nil {
		logger.FromContext(ctx).Error("audit entry not persisted",
			"instance", l.instanceID, "step", stepID, "error", err)
	}
}
