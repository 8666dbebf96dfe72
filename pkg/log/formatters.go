package log

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
)

// JSONFormatter formats log entries as JSON.
type JSONFormatter struct {
	TimestampFormat string // Format for timestamps
	EnableCaller    bool   // Enable caller information (default: false)
}

// Format formats the entry as JSON.
func (f *JSONFormatter) Format(entry *Entry) ([]byte, error) {
	data := make(map[string]interface{}, len(entry.Fields)+4)

	timestampFormat := time.RFC3339
	if f.TimestampFormat != "" {
		timestampFormat = f.TimestampFormat
	}

	for k, v := range entry.Fields {
		if t, ok := v.(time.Duration); ok {
			v = t.String()
		}
		data[k] = v
	}

	// Standard keys win over fields with the same name
	data["timestamp"] = entry.Timestamp.Format(timestampFormat)
	data["level"] = entry.Level.String()
	data["message"] = entry.Message
	if f.EnableCaller && entry.Caller != "" {
		data["caller"] = entry.Caller
	}

	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// TextFormatter formats log entries as human-readable text.
type TextFormatter struct {
	TimestampFormat  string // Format for timestamps
	EnableCaller     bool   // Enable caller information (default: false)
	DisableColors    bool   // Disable color output
	DisableTimestamp bool   // Disable timestamp output
}

// NewTextFormatter creates a new TextFormatter with sensible defaults.
// Colors are turned off automatically when stdout is not a terminal.
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000",
		DisableColors:   color.NoColor,
	}
}

// newColor returns a color that always emits escape codes; TextFormatter.DisableColors
// decides whether it is used.
func newColor(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	c.EnableColor()
	return c
}

var (
	dimColor   = newColor(color.FgHiBlack)
	keyColor   = newColor(color.FgCyan)
	levelColor = map[Level]*color.Color{
		DebugLevel: newColor(color.FgBlue),
		InfoLevel:  newColor(color.FgGreen),
		WarnLevel:  newColor(color.FgYellow),
		ErrorLevel: newColor(color.FgRed),
		FatalLevel: newColor(color.FgRed, color.Bold),
	}
	levelAbbrev = map[Level]string{
		DebugLevel: "DBG",
		InfoLevel:  "INF",
		WarnLevel:  "WRN",
		ErrorLevel: "ERR",
		FatalLevel: "FTL",
	}
)

// Format formats the entry as text. Field keys are sorted so lines are stable.
func (f *TextFormatter) Format(entry *Entry) ([]byte, error) {
	paint := func(c *color.Color, s string) string {
		if f.DisableColors || c == nil {
			return s
		}
		return c.Sprint(s)
	}

	var b strings.Builder

	if !f.DisableTimestamp {
		format := f.TimestampFormat
		if format == "" {
			format = "2006-01-02T15:04:05.000"
		}
		b.WriteString(paint(dimColor, entry.Timestamp.Format(format)))
		b.WriteByte(' ')
	}

	level := entry.Level.String()
	if !f.DisableColors {
		if abbrev, ok := levelAbbrev[entry.Level]; ok {
			level = abbrev
		}
	}
	b.WriteString(paint(levelColor[entry.Level], level))

	if f.EnableCaller && entry.Caller != "" {
		b.WriteString(" (")
		b.WriteString(paint(dimColor, entry.Caller))
		b.WriteByte(')')
	}

	b.WriteByte(' ')
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", paint(keyColor, k), entry.Fields[k])
	}

	b.WriteByte('\n')
	return []byte(b.String()), nil
}
