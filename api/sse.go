package api

import (
	"bytes"
	"io"
)

// WriteEvent writes payload as a single data event of a text/event-stream.
func WriteEvent(w io.Writer, payload []byte) error {
	buf := make([]byte, 0, len(payload)+8)
	for line := range bytes.Lines(payload) {
		buf = append(buf, "data: "...)
		buf = append(buf, bytes.TrimRight(line, "\n")...)
		buf = append(buf, '\n')
	}
	buf = append(buf, '\n')

	_, err := w.Write(buf)
	return err
}
