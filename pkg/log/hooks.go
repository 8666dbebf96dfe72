package log

// RedactionHook replaces the values of sensitive fields before an entry is formatted.
type RedactionHook struct {
	fields []string
}

// Levels returns the levels this hook should be called for.
func (h *RedactionHook) Levels() []Level {
	return []Level{DebugLevel, InfoLevel, WarnLevel, ErrorLevel, FatalLevel}
}

// Fire executes the hook's logic for a log entry.
func (h *RedactionHook) Fire(entry *Entry) error {
	for _, field := range h.fields {
		if _, ok := entry.Fields[field]; ok {
			entry.Fields[field] = "[REDACTED]"
		}
	}
	return nil
}

// NewRedactionHook creates a new redaction hook.
func NewRedactionHook(fields []string) *RedactionHook {
	return &RedactionHook{fields: fields}
}
