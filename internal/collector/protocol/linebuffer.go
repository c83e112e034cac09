package protocol

import (
	"bytes"
	"strings"
)

// maxPartialLine bounds how much unterminated output is retained. A probe that
// writes this much without a newline is not speaking the protocol.
const maxPartialLine = 64 * 1024

// LineBuffer splits a byte stream into complete lines, keeping an unterminated
// tail until the next write.
type LineBuffer struct {
	partial []byte
}

// Write appends chunk and returns every line completed by it, without the
// trailing "\n" or "\r\n".
func (b *LineBuffer) Write(chunk []byte) []string {
	b.partial = append(b.partial, chunk...)

	var lines []string
	for {
		idx := bytes.IndexByte(b.partial, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, strings.TrimRight(string(b.partial[:idx]), "\r"))
		b.partial = b.partial[idx+1:]
	}

	if len(b.partial) > maxPartialLine {
		b.partial = nil
	}
	if len(b.partial) == 0 {
		b.partial = nil
	}
	return lines
}

// Pending returns the retained partial line.
func (b *LineBuffer) Pending() string {
	return string(b.partial)
}

func (b *LineBuffer) Reset() {
	b.partial = nil
}
