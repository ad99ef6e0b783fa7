// File: pkg/output/sink.go
package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Sink is the destination of a document.
type Sink interface {
	io.WriteCloser
	// Name is the destination file name, or "" when it has none.
	Name() string
	// Path is the absolute host path, or "" when the sink is not a host file.
	Path() string
	// Discard closes the sink and removes what was written, where possible.
	Discard() error
}

// FileSink writes to a host file.
type FileSink struct {
	f      *os.File
	path   string
	closed bool
	logger *zap.Logger
}

// CreateFile creates or truncates the file at path, creating missing parent
// directories first.
func CreateFile(path string, logger *zap.Logger) (*FileSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve output path: %w", err)
	}
	if err := ensureDirectory(filepath.Dir(abs), logger); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(abs)
	if err != nil {
		logger.Error("Failed to create output file", zap.String("file", abs), zap.Error(err))
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return &FileSink{f: f, path: abs, logger: logger}, nil
}

func (s *FileSink) Write(p []byte) (int, error) { return s.f.Write(p) }
func (s *FileSink) Name() string                { return filepath.Base(s.path) }
func (s *FileSink) Path() string                { return s.path }

// Close closes the file. Later calls return nil.
func (s *FileSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.f.Close(); err != nil {
		s.logger.Error("Failed to close output file", zap.String("file", s.path), zap.Error(err))
		return err
	}
	return nil
}

// Discard closes the file and removes it.
func (s *FileSink) Discard() error {
	closeErr := s.Close()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return multierr.Append(closeErr, err)
	}
	s.logger.Debug("Removed partial output", zap.String("file", s.path))
	return closeErr
}

// ensureDirectory ensures a directory exists, creating it if necessary.
func ensureDirectory(path string, logger *zap.Logger) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		logger.Error("Failed to create directory", zap.String("path", path), zap.Error(err))
		return err
	}
	logger.Debug("Ensured directory exists", zap.String("path", path))
	return nil
}

// writerSink adapts a caller-owned writer such as stdout or an HTTP response.
type writerSink struct {
	w    io.Writer
	name string
}

// WriterSink wraps w. Close and Discard never close w; what was already
// written cannot be taken back.
func WriterSink(w io.Writer, name string) Sink {
	return &writerSink{w: w, name: name}
}

func (s *writerSink) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *writerSink) Close() error                { return nil }
func (s *writerSink) Discard() error              { return nil }
func (s *writerSink) Name() string                { return s.name }
func (s *writerSink) Path() string                { return "" }
