package adapter

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
)

// ScanSSE reads server-sent events from r and calls fn with the event name
// and joined data lines of every event that carries data. fn returns false
// to stop early. EOF ends the scan without error; a trailing event without
// its blank line is still delivered.
func ScanSSE(r io.Reader, fn func(event string, data []byte) bool) error {
	br := bufio.NewReaderSize(r, 8192)
	var (
		event string
		data  [][]byte
	)
	dispatch := func() bool {
		if len(data) == 0 {
			event = ""
			return true
		}
		payload := bytes.Join(data, []byte("\n"))
		name := event
		event, data = "", nil
		return fn(name, payload)
	}

	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimRight(line, "\r\n")
			switch {
			case len(line) == 0:
				if !dispatch() {
					return nil
				}
			case line[0] == ':':
			case bytes.HasPrefix(line, []byte("event:")):
				event = strings.TrimSpace(string(line[len("event:"):]))
			case bytes.HasPrefix(line, []byte("data:")):
				value := line[len("data:"):]
				if len(value) > 0 && value[0] == ' ' {
					value = value[1:]
				}
				data = append(data, value)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				dispatch()
				return nil
			}
			return err
		}
	}
}
