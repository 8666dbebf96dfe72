package log

import (
	"fmt"
	"os"
	"strings"
)

// Config defines logging configuration.
type Config struct {
	// Level sets the minimum log level
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// Format sets the output format (json, text)
	Format string `json:"format" yaml:"format" mapstructure:"format"`

	// File, when set, writes logs to this path instead of the console
	File string `json:"file,omitempty" yaml:"file,omitempty" mapstructure:"file"`

	// EnableCaller enables adding caller information to logs
	EnableCaller bool `json:"enable_caller" yaml:"enable_caller" mapstructure:"enable_caller"`

	// RedactedFields lists fields that should be redacted (e.g. api keys)
	RedactedFields []string `json:"redacted_fields,omitempty" yaml:"redacted_fields,omitempty" mapstructure:"redacted_fields"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "text",
	}
}

// ApplyConfig creates a logger from a configuration.
func ApplyConfig(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	options := []LoggerOption{WithLevel(level)}

	switch strings.ToLower(config.Format) {
	case "json":
		options = append(options, WithFormatter(&JSONFormatter{EnableCaller: config.EnableCaller}))
	case "text", "":
		tf := NewTextFormatter()
		tf.EnableCaller = config.EnableCaller
		if config.File != "" {
			tf.DisableColors = true
		}
		options = append(options, WithFormatter(tf))
	default:
		return nil, fmt.Errorf("invalid log format: %s", config.Format)
	}

	if config.File != "" {
		options = append(options, WithOutput(NewFileOutput(os.ExpandEnv(config.File))))
	} else {
		options = append(options, WithOutput(NewConsoleOutput(WithErrorToStderr())))
	}

	if len(config.RedactedFields) > 0 {
		options = append(options, WithHook(NewRedactionHook(config.RedactedFields)))
	}

	return NewLogger(options...), nil
}

// ParseLevel parses a level string into a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level: %s", level)
	}
}
