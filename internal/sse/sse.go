// Package sse implements the text/event-stream framing used by the send
// endpoint: a Writer for the server side and a Reader that reassembles
// frames split across arbitrary network reads.
//
// Frames look like
//
//	event: batch_complete
//	data: {"batch":1,...}
//
// terminated by a blank line. Lines starting with ':' are comments
// (keep-alive pings) and carry no event.
package sse

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// Event is one decoded frame.
type Event struct {
	Name string
	Data []byte
}

// Writer writes frames to an HTTP response, flushing after each one.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter sets the event-stream headers and flushes them.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Writer{w: w, flusher: flusher}, nil
}

// WriteEvent writes one named frame. Newlines inside data are split over
// several data lines.
func (sw *Writer) WriteEvent(name string, data []byte) error {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(name)
	b.WriteByte('\n')
	for _, line := range strings.Split(string(data), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	if _, err := io.WriteString(sw.w, b.String()); err != nil {
		return fmt.Errorf("sse: write %s: %w", name, err)
	}
	sw.flusher.Flush()
	return nil
}

// Comment writes a comment line, used as a keep-alive ping.
func (sw *Writer) Comment(text string) error {
	if _, err := fmt.Fprintf(sw.w, ": %s\n\n", text); err != nil {
		return fmt.Errorf("sse: write comment: %w", err)
	}
	sw.flusher.Flush()
	return nil
}

// Reader decodes frames from a stream.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next complete event. It returns io.EOF when the stream
// ends on a frame boundary and io.ErrUnexpectedEOF when it ends inside a
// frame. Frames without data lines are skipped; a frame without an event
// line is named "message".
func (sr *Reader) Next() (Event, error) {
	var (
		ev      Event
		data    []string
		hasData bool
		partial bool
	)

	for {
		line, err := sr.r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				if partial || line != "" {
					return Event{}, io.ErrUnexpectedEOF
				}
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")

		if line == "" {
			if !hasData {
				ev, data, partial = Event{}, nil, false
				continue
			}
			if ev.Name == "" {
				ev.Name = "message"
			}
			ev.Data = []byte(strings.Join(data, "\n"))
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		partial = true
		switch field {
		case "event":
			ev.Name = value
		case "data":
			data = append(data, value)
			hasData = true
		}
	}
}
