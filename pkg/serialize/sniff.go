// File: pkg/serialize/sniff.go
package serialize

import (
	"bytes"
	"errors"
	"io"
)

// LookaheadSize is the number of leading bytes inspected for binary content.
const LookaheadSize = 1024

// IsBinary reports whether head looks like binary content: it holds a zero
// byte. Empty input is text.
func IsBinary(head []byte) bool {
	return bytes.IndexByte(head, 0) >= 0
}

// readLookahead reads up to LookaheadSize bytes from r. A short stream is not
// an error.
func readLookahead(r io.Reader) ([]byte, error) {
	head := make([]byte, LookaheadSize)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return head[:n], nil
}
