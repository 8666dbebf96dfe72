package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ConsoleOutput writes log entries to the console (stdout/stderr).
type ConsoleOutput struct {
	mu            sync.Mutex
	useStderr     bool      // Use stderr instead of stdout
	errorToStderr bool      // Send error and fatal logs to stderr
	writer        io.Writer // Custom writer (optional)
}

// Write writes the log entry to the console.
func (o *ConsoleOutput) Write(entry *Entry, formattedEntry []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var writer io.Writer
	switch {
	case o.writer != nil:
		writer = o.writer
	case o.useStderr:
		writer = os.Stderr
	default:
		writer = os.Stdout
	}

	if (entry.Level == ErrorLevel || entry.Level == FatalLevel) && o.errorToStderr {
		writer = os.Stderr
	}

	_, err := writer.Write(formattedEntry)
	return err
}

// Close implements the Output interface but does nothing for console output.
func (o *ConsoleOutput) Close() error {
	return nil
}

// ConsoleOutputOption is a function that configures a ConsoleOutput.
type ConsoleOutputOption func(*ConsoleOutput)

// WithStderr configures the ConsoleOutput to use stderr.
func WithStderr() ConsoleOutputOption {
	return func(o *ConsoleOutput) {
		o.useStderr = true
	}
}

// WithErrorToStderr configures the ConsoleOutput to send error and fatal logs to stderr.
func WithErrorToStderr() ConsoleOutputOption {
	return func(o *ConsoleOutput) {
		o.errorToStderr = true
	}
}

// WithCustomWriter configures the ConsoleOutput to use a custom writer.
// Error routing to stderr is disabled so every entry reaches w.
func WithCustomWriter(w io.Writer) ConsoleOutputOption {
	return func(o *ConsoleOutput) {
		o.writer = w
		o.errorToStderr = false
	}
}

// NewConsoleOutput creates a new ConsoleOutput with the given options.
func NewConsoleOutput(options ...ConsoleOutputOption) *ConsoleOutput {
	o := &ConsoleOutput{
		errorToStderr: true,
	}

	for _, option := range options {
		option(o)
	}

	return o
}

// FileOutput appends log entries to a file, rotating it once it grows past maxSize.
type FileOutput struct {
	mu          sync.Mutex
	file        *os.File
	filename    string
	maxSize     int64
	maxBackups  int
	currentSize int64
}

// Write writes the log entry to the file.
func (o *FileOutput) Write(_ *Entry, formattedEntry []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.file == nil {
		if err := o.openFile(); err != nil {
			return err
		}
	}

	if o.maxSize > 0 && o.currentSize+int64(len(formattedEntry)) > o.maxSize {
		if err := o.rotate(); err != nil {
			return err
		}
	}

	n, err := o.file.Write(formattedEntry)
	o.currentSize += int64(n)
	return err
}

// Close closes the file.
func (o *FileOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.file == nil {
		return nil
	}
	err := o.file.Close()
	o.file = nil
	return err
}

func (o *FileOutput) openFile() error {
	if err := os.MkdirAll(filepath.Dir(o.filename), 0o755); err != nil {
		return err
	}

	file, err := os.OpenFile(o.filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}

	o.file = file
	o.currentSize = info.Size()
	return nil
}

// rotate shifts filename.N to filename.N+1, dropping anything beyond maxBackups.
func (o *FileOutput) rotate() error {
	if o.file != nil {
		if err := o.file.Close(); err != nil {
			return err
		}
		o.file = nil
	}

	if o.maxBackups > 0 {
		_ = os.Remove(fmt.Sprintf("%s.%d", o.filename, o.maxBackups))
		for i := o.maxBackups - 1; i >= 1; i-- {
			_ = os.Rename(fmt.Sprintf("%s.%d", o.filename, i), fmt.Sprintf("%s.%d", o.filename, i+1))
		}
		if err := os.Rename(o.filename, o.filename+".1"); err != nil && !os.IsNotExist(err) {
			return err
		}
	} else if err := os.Truncate(o.filename, 0); err != nil && !os.IsNotExist(err) {
		return err
	}

	return o.openFile()
}

// FileOutputOption is a function that configures a FileOutput.
type FileOutputOption func(*FileOutput)

// WithMaxSize sets the size at which the file is rotated. Zero disables rotation.
func WithMaxSize(maxBytes int64) FileOutputOption {
	return func(o *FileOutput) {
		o.maxSize = maxBytes
	}
}

// WithMaxBackups sets the maximum number of rotated files kept.
func WithMaxBackups(maxBackups int) FileOutputOption {
	return func(o *FileOutput) {
		o.maxBackups = maxBackups
	}
}

// NewFileOutput creates a new FileOutput with the given options.
func NewFileOutput(filename string, options ...FileOutputOption) *FileOutput {
	o := &FileOutput{
		filename:   filename,
		maxSize:    10 * 1024 * 1024,
		maxBackups: 5,
	}

	for _, option := range options {
		option(o)
	}

	return o
}

// NullOutput discards all log entries.
type NullOutput struct{}

func (o *NullOutput) Write(*Entry, []byte) error { return nil }
func (o *NullOutput) Close() error               { return nil }

// NewNullOutput creates a new NullOutput.
func NewNullOutput() *NullOutput {
	return &NullOutput{}
}
