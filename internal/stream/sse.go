package stream

import (
	"bufio"
	"io"
	"strings"
)

const maxEventSize = 1 << 20

// scanEvents parses a text/event-stream body and calls emit with the data of every
// dispatched event. Scanning stops early when emit returns false. A trailing event
// without its terminating blank line is dropped.
func scanEvents(r io.Reader, emit func(data string) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxEventSize)

	var data []string
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")

		if line == "" {
			if len(data) == 0 {
				continue
			}
			payload := strings.Join(data, "\n")
			data = data[:0]
			if !emit(payload) {
				return nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}
		// event, id and retry carry nothing this client needs.
		if field == "data" {
			data = append(data, value)
		}
	}
	return scanner.Err()
}
