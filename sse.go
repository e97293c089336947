package fanctrld

import (
	"bufio"
	"bytes"
)

// ReadSSE returns the data of the next event of a text/event-stream.
// Comments and fields other than data are skipped.
func ReadSSE(r *bufio.Reader) ([]byte, error) {
	var data []byte
	var found bool

	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			return data, err
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if !found {
				continue // Leading blank lines.
			}
			return data, nil
		}

		v, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			continue
		}
		v = bytes.TrimPrefix(v, []byte{' '})

		if found {
			data = append(data, '\n')
		}
		data = append(data, v...)
		found = true
	}
}
