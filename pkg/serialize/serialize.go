// Package serialize turns the content stream of one file into the text that
// goes into a packed document.
package serialize

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"sourcepack/pkg/vnode"
)

// Markers written in place of a body.
const (
	BinaryMarker  = "[Binary content detected]"
	OmittedMarker = "[Content omitted]"
)

// ErrTooLarge is returned when a stream turns out longer than the cap its
// declared size promised.
var ErrTooLarge = errors.New("content exceeds size limit")

// Kind classifies the outcome of serializing one file.
type Kind int

const (
	KindText   Kind = iota // Text holds the transformed body
	KindBinary             // the lookahead window held a zero byte
	KindFailed             // Err holds the cause; the run continues
)

// Body is the serialized form of one file.
type Body struct {
	Kind Kind
	Text string
	Err  error
}

// ErrorMarker returns the inline marker written for a failed body.
func ErrorMarker(err error) string {
	return fmt.Sprintf("[Read Error: %v]", err)
}

// Options control the per-file transforms.
type Options struct {
	StripComments bool
	Compress      bool
	MaxBytes      int64 // read cap; zero or less means unbounded
}

// Serializer runs the per-file pipeline. It is stateless apart from its
// options and may be reused for every file of a run.
type Serializer struct {
	opts   Options
	logger *zap.Logger
}

// New returns a Serializer. A nil logger disables logging.
func New(opts Options, logger *zap.Logger) *Serializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Serializer{opts: opts, logger: logger}
}

// Body opens node once and serializes it. Failures never escape as errors:
// they are reported through Body.Kind so the caller can write a marker and
// move on to the next file.
func (s *Serializer) Body(node vnode.Node, relPath string) Body {
	rc, err := node.Open()
	if err != nil {
		s.logger.Warn("Failed to open file", zap.String("path", relPath), zap.Error(err))
		return Body{Kind: KindFailed, Err: err}
	}
	defer rc.Close()

	body := s.Read(rc, node.Name())
	if body.Kind == KindFailed {
		s.logger.Warn("Failed to read file", zap.String("path", relPath), zap.Error(body.Err))
	}
	return body
}

// Read runs the pipeline over r. name selects the comment style.
//
// The stream is read once: the lookahead window used for binary detection is
// stitched back in front of the remainder, so single-pass sources work.
func (s *Serializer) Read(r io.Reader, name string) Body {
	head, err := readLookahead(r)
	if err != nil {
		return Body{Kind: KindFailed, Err: err}
	}
	if IsBinary(head) {
		return Body{Kind: KindBinary}
	}

	src := io.MultiReader(bytes.NewReader(head), r)
	var limited *io.LimitedReader
	if s.opts.MaxBytes > 0 {
		limited = &io.LimitedReader{R: src, N: s.opts.MaxBytes + 1}
		src = limited
	}
	decoded, err := io.ReadAll(transform.NewReader(src, unicode.UTF8BOM.NewDecoder()))
	if err != nil {
		return Body{Kind: KindFailed, Err: fmt.Errorf("decode: %w", err)}
	}
	if limited != nil && limited.N == 0 {
		return Body{Kind: KindFailed, Err: fmt.Errorf("%w of %d bytes", ErrTooLarge, s.opts.MaxBytes)}
	}

	text := string(decoded)
	if s.opts.StripComments {
		text = StripComments(text, StyleFor(name))
	}
	return Body{Kind: KindText, Text: Format(text, s.opts.Compress)}
}

// Format lays out text line by line. Uncompressed, every line is followed by
// a newline. Compressed, lines are trimmed, blank lines dropped, and each
// survivor is followed by a single space.
func Format(text string, compress bool) string {
	lines := SplitLines(text)
	var b strings.Builder
	b.Grow(len(text) + 1)
	for _, line := range lines {
		if compress {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			b.WriteString(line)
			b.WriteByte(' ')
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// SplitLines splits text on "\r\n", "\r" and "\n". A trailing line break does
// not produce an empty final line.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\n':
			lines = append(lines, text[start:i])
			start = i + 1
		case '\r':
			lines = append(lines, text[start:i])
			if i+1 < len(text) && text[i+1] == '\n' {
				i++
			}
			start = i + 1
		}
	}
	if start < len(text) {
		lines = append(lines, text[start:])
	}
	return lines
}
