package output

import (
	"fmt"
	"strings"
)

// Format is the document grammar.
type Format int

const (
	Markdown Format = iota
	XML
	Text
)

// ParseFormat accepts the names printed by Format.String, case-insensitively,
// plus the common aliases "md" and "txt".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "markdown", "md", "":
		return Markdown, nil
	case "xml":
		return XML, nil
	case "text", "txt":
		return Text, nil
	default:
		return 0, fmt.Errorf("unknown format %q (want markdown, xml or text)", s)
	}
}

func (f Format) String() string {
	switch f {
	case Markdown:
		return "markdown"
	case XML:
		return "xml"
	case Text:
		return "text"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// Extension returns the file extension for documents of this format.
func (f Format) Extension() string {
	switch f {
	case XML:
		return ".xml"
	case Text:
		return ".txt"
	default:
		return ".md"
	}
}

// ContentType returns the media type for documents of this format.
func (f Format) ContentType() string {
	switch f {
	case XML:
		return "application/xml; charset=utf-8"
	case Text:
		return "text/plain; charset=utf-8"
	default:
		return "text/markdown; charset=utf-8"
	}
}
