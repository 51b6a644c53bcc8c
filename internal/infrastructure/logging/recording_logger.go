package logging

import (
	"fmt"
	"sync"
)

// Entry is a single record captured by a RecordingLogger.
type Entry struct {
	Level    string
	Category Category
	Sub      SubCategory
	Msg      string
	Extra    map[ExtraKey]any
}

// RecordingLogger keeps every entry in memory. Tests use it to assert on
// what a component logged without touching the filesystem.
type RecordingLogger struct {
	mu      sync.Mutex
	entries []Entry
}

func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{}
}

func (l *RecordingLogger) Init() {}

func (l *RecordingLogger) record(level string, cat Category, sub SubCategory, msg string, extra map[ExtraKey]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Level: level, Category: cat, Sub: sub, Msg: msg, Extra: extra})
}

func (l *RecordingLogger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Count returns how many entries were logged at level under sub.
func (l *RecordingLogger) Count(level string, sub SubCategory) int {
	n := 0
	for _, e := range l.Entries() {
		if e.Level == level && e.Sub == sub {
			n++
		}
	}
	return n
}

func (l *RecordingLogger) Debug(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any) {
	l.record("debug", cat, sub, msg, extra)
}

func (l *RecordingLogger) Debugf(template string, args ...any) {
	l.record("debug", General, "", fmt.Sprintf(template, args...), nil)
}

func (l *RecordingLogger) Info(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any) {
	l.record("info", cat, sub, msg, extra)
}

func (l *RecordingLogger) Infof(template string, args ...any) {
	l.record("info", General, "", fmt.Sprintf(template, args...), nil)
}

func (l *RecordingLogger) Warn(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any) {
	l.record("warn", cat, sub, msg, extra)
}

func (l *RecordingLogger) Warnf(template string, args ...any) {
	l.record("warn", General, "", fmt.Sprintf(template, args...), nil)
}

func (l *RecordingLogger) Error(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any) {
	l.record("error", cat, sub, msg, extra)
}

func (l *RecordingLogger) Errorf(template string, args ...any) {
	l.record("error", General, "", fmt.Sprintf(template, args...), nil)
}

func (l *RecordingLogger) Fatal(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any) {
	l.record("fatal", cat, sub, msg, extra)
}

func (l *RecordingLogger) Fatalf(template string, args ...any) {
	l.record("fatal", General, "", fmt.Sprintf(template, args...), nil)
}
