package decoder

import (
	"bufio"
	"io"
	"strconv"
)

// Sink receives formatted output lines
type Sink interface {
	WriteLine(line string) error
}

// FormatLine renders a sample as the recorder's text format: the timestamp
// followed by each payload field, every value followed by a single space,
// then a newline.
func FormatLine(s Sample) string {
	buf := make([]byte, 0, 40)
	buf = strconv.AppendUint(buf, s.Timestamp, 10)
	buf = append(buf, ' ')
	if s.Payload != nil {
		for i, v := range s.Payload.Fields() {
			if i > 0 {
				buf = append(buf, ' ')
			}
			buf = strconv.AppendInt(buf, v, 10)
		}
		buf = append(buf, ' ')
	}
	buf = append(buf, '\n')
	return string(buf)
}

// LineWriter is a buffered Sink over an io.Writer. Flush must be called
// once decoding finishes.
type LineWriter struct {
	w *bufio.Writer
}

// NewLineWriter creates a LineWriter writing to w
func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{w: bufio.NewWriter(w)}
}

// WriteLine implements Sink
func (l *LineWriter) WriteLine(line string) error {
	_, err := l.w.WriteString(line)
	return err
}

// Flush writes any buffered lines to the underlying writer
func (l *LineWriter) Flush() error {
	return l.w.Flush()
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(line string) error

// WriteLine implements Sink
func (f SinkFunc) WriteLine(line string) error {
	return f(line)
}
