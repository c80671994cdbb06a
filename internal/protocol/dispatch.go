package protocol

import (
	"fmt"
	"io"
)

// Version identifies the recorder firmware revision that fixes the payload layouts.
type Version uint8

// DefaultVersion is the only firmware revision with a known layout.
const DefaultVersion Version = 1

// Payload is a decoded record body. Fields returns the values in output order.
type Payload interface {
	Fields() []int64
}

// PayloadDecoder consumes one payload from r.
type PayloadDecoder func(r io.Reader) (Payload, error)

// Key selects a payload decoder.
type Key struct {
	Version Version
	Type    MeasurementType
}

// Table maps (version, type) to the decoder for that payload layout.
type Table map[Key]PayloadDecoder

// DefaultTable returns the dispatch table for all known firmware revisions.
//
// Version 1 firmware tags barometric records as START; the mapping is kept
// as-is so existing logs decode the same way they always have.
func DefaultTable() Table {
	return Table{
		{Version: 1, Type: TypeStart}: DecodeBarometric,
	}
}

// HasVersion reports whether the table has any entry for v
func (t Table) HasVersion(v Version) bool {
	for k := range t {
		if k.Version == v {
			return true
		}
	}
	return false
}

// Lookup returns the decoder registered for (v, mt)
func (t Table) Lookup(v Version, mt MeasurementType) (PayloadDecoder, bool) {
	dec, ok := t[Key{Version: v, Type: mt}]
	return dec, ok
}

// UnsupportedTypeError reports a header whose type has no decoder under the active version.
type UnsupportedTypeError struct {
	Version Version
	Type    MeasurementType
	Offset  int64
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported measurement type %s under protocol version %d at offset %d",
		e.Type, e.Version, e.Offset)
}

// Is lets errors.Is match ErrUnsupportedMeasurementType
func (e *UnsupportedTypeError) Is(target error) bool {
	return target == ErrUnsupportedMeasurementType
}
