// Package output frames packed content into Markdown, XML or Text documents
// and owns the sink they are written to.
package output

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"go.uber.org/multierr"
)

// BufferSize is the size of the write buffer in front of the sink.
const BufferSize = 16 * 1024

// ErrUnbalanced is returned when an XML element is closed out of order.
var ErrUnbalanced = errors.New("unbalanced document element")

// Section titles and fixed lines of the Markdown and Text grammars.
const (
	SelectionTitle = "Selected Files"
	structureTitle = "## Project Structure\n\n"
	contentsTitle  = "## File Contents\n\n"
)

const (
	elemProject = "project"
	elemFiles   = "files"
	elemDir     = "dir"
	elemFile    = "file"
)

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
)

// Document writes one packed document to a Sink. Write errors are sticky:
// after the first failure every method returns it without writing.
//
// For XML the document tracks the open elements; every element is closed
// exactly once, in reverse order of opening.
type Document struct {
	format Format
	sink   Sink
	cw     *countingWriter
	w      *bufio.Writer
	stack  []string
	last   byte // last byte handed to the buffer
	err    error
	closed bool
}

// NewDocument returns a Document writing format to sink.
func NewDocument(sink Sink, format Format) *Document {
	cw := &countingWriter{w: sink}
	return &Document{
		format: format,
		sink:   sink,
		cw:     cw,
		w:      bufio.NewWriterSize(cw, BufferSize),
	}
}

// Format returns the document grammar.
func (d *Document) Format() Format { return d.format }

// Sink returns the underlying sink.
func (d *Document) Sink() Sink { return d.sink }

// Bytes returns the number of bytes that reached the sink.
func (d *Document) Bytes() int64 { return d.cw.n }

// Err returns the first write error, if any.
func (d *Document) Err() error { return d.err }

// Header writes the document opening. name is the project name; XML uses it
// as the project attribute. A selection document is titled SelectionTitle.
func (d *Document) Header(name string, selection bool) error {
	switch {
	case d.format == XML:
		d.push(elemProject)
		d.push(elemFiles)
		return d.write(`<project name="` + attrEscaper.Replace(name) + "\">\n<files>\n")
	case selection:
		return d.write("# " + SelectionTitle + "\n\n")
	default:
		return d.write("# Project: " + name + "\n\n")
	}
}

// Outline writes the structure section, with render producing the outline
// text. XML documents have no outline; Outline is a no-op for them.
func (d *Document) Outline(render func(w io.Writer) error) error {
	if d.format == XML {
		return nil
	}
	if err := d.write(structureTitle + "```text\n"); err != nil {
		return err
	}
	if err := render(docWriter{d}); err != nil {
		return err
	}
	if err := d.fenceNewline(); err != nil {
		return err
	}
	return d.write("```\n\n")
}

// Contents writes the heading of the file-contents section.
func (d *Document) Contents() error {
	if d.format == XML {
		return nil
	}
	return d.write(contentsTitle)
}

// OpenDir opens a directory element. Only XML encodes directories.
func (d *Document) OpenDir(name string) error {
	if d.format != XML {
		return nil
	}
	d.push(elemDir)
	return d.write(`  <dir name="` + attrEscaper.Replace(name) + "\">\n")
}

// CloseDir closes the innermost directory element.
func (d *Document) CloseDir() error {
	if d.format != XML {
		return nil
	}
	if err := d.pop(elemDir); err != nil {
		return err
	}
	return d.write("  </dir>\n")
}

// OpenFile writes the per-file header for relPath.
func (d *Document) OpenFile(relPath string) error {
	switch d.format {
	case XML:
		d.push(elemFile)
		return d.write("\n<file path=\"" + attrEscaper.Replace(relPath) + "\">\n")
	case Text:
		return d.write("\n--- " + relPath + " ---\n")
	default:
		return d.write("\n## " + relPath + "\n```" + fenceLanguage(relPath) + "\n")
	}
}

// WriteText writes body text of the open file, escaped for XML.
func (d *Document) WriteText(s string) error {
	if d.format == XML {
		s = textEscaper.Replace(s)
	}
	return d.write(s)
}

// CloseFile writes the per-file footer. A Markdown closing fence always
// starts on a new line.
func (d *Document) CloseFile() error {
	switch d.format {
	case XML:
		if err := d.pop(elemFile); err != nil {
			return err
		}
		return d.write("</file>\n")
	case Text:
		return d.write("\n")
	default:
		if err := d.fenceNewline(); err != nil {
			return err
		}
		return d.write("```\n")
	}
}

// End writes the document closing. For XML it closes files and project; any
// element still open at that point is an error.
func (d *Document) End() error {
	if d.format != XML {
		return nil
	}
	if err := d.pop(elemFiles); err != nil {
		return err
	}
	if err := d.pop(elemProject); err != nil {
		return err
	}
	return d.write("</files>\n</project>")
}

// Close flushes the buffer and closes the sink. Only the first call does any
// work.
func (d *Document) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	var err error
	if d.err == nil {
		err = multierr.Append(err, d.w.Flush())
	}
	return multierr.Append(err, d.sink.Close())
}

// Depth returns the number of open XML elements.
func (d *Document) Depth() int { return len(d.stack) }

func (d *Document) write(s string) error {
	if d.err != nil {
		return d.err
	}
	if d.closed {
		d.err = errors.New("write to closed document")
		return d.err
	}
	if s == "" {
		return nil
	}
	if _, err := d.w.WriteString(s); err != nil {
		d.err = fmt.Errorf("write document: %w", err)
		return d.err
	}
	d.last = s[len(s)-1]
	return nil
}

// fenceNewline ends the current line unless it is already ended.
func (d *Document) fenceNewline() error {
	if d.last == '\n' {
		return nil
	}
	return d.write("\n")
}

func (d *Document) push(elem string) {
	d.stack = append(d.stack, elem)
}

func (d *Document) pop(elem string) error {
	if len(d.stack) == 0 || d.stack[len(d.stack)-1] != elem {
		return fmt.Errorf("%w: closing %s", ErrUnbalanced, elem)
	}
	d.stack = d.stack[:len(d.stack)-1]
	return nil
}

// fenceLanguage returns the info string of a Markdown fence: the extension
// of the file name without its dot.
func fenceLanguage(relPath string) string {
	return strings.TrimPrefix(path.Ext(path.Base(relPath)), ".")
}

// docWriter lets renderers write raw text into the document.
type docWriter struct{ d *Document }

func (w docWriter) Write(p []byte) (int, error) {
	if err := w.d.write(string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
