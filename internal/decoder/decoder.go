package decoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/skypro1111/nanoflight-decoder/internal/protocol"
)

// DefaultBufferSize is the read buffer placed in front of the input stream
const DefaultBufferSize = 64 * 1024

// Sample is one decoded record
type Sample struct {
	Timestamp uint64                   // Wraparound-corrected timestamp
	Type      protocol.MeasurementType // Header tag
	Payload   protocol.Payload         // Decoded record body
}

// State carries the timestamp correction across a whole log
type State struct {
	LastTimestamp  uint64
	TimestampShift uint64
	Wraparounds    uint64
}

// Correct applies wraparound correction to a raw header timestamp and
// advances the state. It reports whether a wrap was detected.
func (s *State) Correct(raw uint32) (uint64, bool) {
	candidate := uint64(raw) + s.TimestampShift
	wrapped := false
	if candidate < s.LastTimestamp {
		s.TimestampShift += protocol.WrapPeriod
		s.Wraparounds++
		candidate = uint64(raw) + s.TimestampShift
		wrapped = true
	}
	s.LastTimestamp = candidate
	return candidate, wrapped
}

// Decoder decodes one recorder log. A Decoder must not be shared between goroutines.
type Decoder struct {
	r       io.Reader
	version protocol.Version
	table   protocol.Table
	state   State
	offset  int64
	records uint64
	err     error
	observe func(Sample)
}

// Option configures a Decoder
type Option func(*Decoder)

// WithVersion selects the firmware revision used for payload dispatch
func WithVersion(v protocol.Version) Option {
	return func(d *Decoder) { d.version = v }
}

// WithTable replaces the dispatch table
func WithTable(t protocol.Table) Option {
	return func(d *Decoder) { d.table = t }
}

// WithObserver registers fn to be called with every successfully decoded sample
func WithObserver(fn func(Sample)) Option {
	return func(d *Decoder) { d.observe = fn }
}

// WithBufferSize wraps the input in a bufio.Reader of the given size
func WithBufferSize(size int) Option {
	return func(d *Decoder) {
		if size > 0 {
			d.r = bufio.NewReaderSize(d.r, size)
		}
	}
}

// New creates a decoder reading records from r
func New(r io.Reader, opts ...Option) (*Decoder, error) {
	d := &Decoder{
		r:       r,
		version: protocol.DefaultVersion,
		table:   protocol.DefaultTable(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if !d.table.HasVersion(d.version) {
		return nil, fmt.Errorf("version %d: %w", d.version, protocol.ErrUnsupportedVersion)
	}

	return d, nil
}

// Next decodes the next record. It returns io.EOF when the log ends on a
// record boundary. Any other error is terminal and is returned again by
// every later call.
func (d *Decoder) Next() (Sample, error) {
	if d.err != nil {
		return Sample{}, d.err
	}

	sample, err := d.next()
	if err != nil {
		d.err = err
		return Sample{}, err
	}

	d.records++
	if d.observe != nil {
		d.observe(sample)
	}
	return sample, nil
}

func (d *Decoder) next() (Sample, error) {
	recordOffset := d.offset

	var buf [protocol.HeaderSize]byte
	n, err := io.ReadFull(d.r, buf[:])
	d.offset += int64(n)
	switch {
	case err == nil:
	case n == 0 && errors.Is(err, io.EOF):
		return Sample{}, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return Sample{}, fmt.Errorf("record header at offset %d: expected %d bytes, got %d: %w",
			recordOffset, protocol.HeaderSize, n, protocol.ErrTruncatedRecord)
	default:
		return Sample{}, fmt.Errorf("read record header at offset %d: %w", recordOffset, err)
	}

	header, err := protocol.ParseHeader(buf[:])
	if err != nil {
		return Sample{}, err
	}

	timestamp, _ := d.state.Correct(header.RawTimestamp)

	decode, ok := d.table.Lookup(d.version, header.Type)
	if !ok {
		return Sample{}, &protocol.UnsupportedTypeError{
			Version: d.version,
			Type:    header.Type,
			Offset:  recordOffset,
		}
	}

	cr := &countingReader{r: d.r}
	payload, err := decode(cr)
	d.offset += cr.n
	if err != nil {
		return Sample{}, fmt.Errorf("record at offset %d: %w", recordOffset, err)
	}

	return Sample{
		Timestamp: timestamp,
		Type:      header.Type,
		Payload:   payload,
	}, nil
}

// All returns the remaining records as a single-pass sequence. A terminal
// error is yielded once as the last element; a clean end yields nothing.
func (d *Decoder) All() iter.Seq2[Sample, error] {
	return func(yield func(Sample, error) bool) {
		for {
			sample, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Sample{}, err)
				return
			}
			if !yield(sample, nil) {
				return
			}
		}
	}
}

// State returns a copy of the current correction state
func (d *Decoder) State() State {
	return d.state
}

// Offset returns the number of input bytes consumed so far
func (d *Decoder) Offset() int64 {
	return d.offset
}

// Records returns the number of records decoded so far
func (d *Decoder) Records() uint64 {
	return d.records
}

// Version returns the firmware revision used for dispatch
func (d *Decoder) Version() protocol.Version {
	return d.version
}

// Stats summarises one completed decode
type Stats struct {
	Records     uint64
	Wraparounds uint64
	Bytes       int64
}

// Decode drives a decoder over r, writing one line per record to sink.
// Lines written before a failure are kept. The context is checked between
// records only.
func Decode(ctx context.Context, r io.Reader, sink Sink, opts ...Option) (Stats, error) {
	d, err := New(r, opts...)
	if err != nil {
		return Stats{}, err
	}

	stats := func() Stats {
		return Stats{Records: d.Records(), Wraparounds: d.state.Wraparounds, Bytes: d.Offset()}
	}

	for sample, err := range d.All() {
		if err != nil {
			return stats(), err
		}
		if err := sink.WriteLine(FormatLine(sample)); err != nil {
			return stats(), fmt.Errorf("write record %d: %w", d.Records(), err)
		}
		if err := ctx.Err(); err != nil {
			return stats(), err
		}
	}

	return stats(), nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
