package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Wire format constants
const (
	// Record structure sizes
	HeaderSize     = 4 // single little-endian word
	BarometricSize = 8 // pressure:4 + temperature:4

	// Header bit layout
	TypeShift     = 28
	TimestampMask = 0x0FFFFFFF

	// WrapPeriod is added to the timestamp shift each time the 28-bit counter wraps.
	WrapPeriod = 0x0FFFFFFF
)

// MeasurementType is the 4-bit tag in the top nibble of a record header.
type MeasurementType uint8

// Named measurement types. Values 6-15 are reserved.
const (
	TypeStart        MeasurementType = 0
	TypeAHRS         MeasurementType = 1
	TypeAcceleration MeasurementType = 2
	TypeGyro         MeasurementType = 3
	TypeMag          MeasurementType = 4
	TypeBarom        MeasurementType = 5
)

var (
	ErrTruncatedRecord            = errors.New("truncated record")
	ErrUnsupportedMeasurementType = errors.New("unsupported measurement type")
	ErrUnsupportedVersion         = errors.New("unsupported protocol version")
)

// Header represents the 4-byte record header
// Layout: [Type:4 bits][RawTimestamp:28 bits], little-endian word
type Header struct {
	Type         MeasurementType
	RawTimestamp uint32
}

// ParseWord splits a header word into its type and raw timestamp fields
func ParseWord(word uint32) Header {
	return Header{
		Type:         MeasurementType(word >> TypeShift),
		RawTimestamp: word & TimestampMask,
	}
}

// ParseHeader parses the 4-byte record header
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("header too short: expected %d bytes, got %d: %w",
			HeaderSize, len(data), ErrTruncatedRecord)
	}
	return ParseWord(binary.LittleEndian.Uint32(data[:HeaderSize])), nil
}

// Word reassembles the on-disk header word
func (h Header) Word() uint32 {
	return uint32(h.Type)<<TypeShift | h.RawTimestamp&TimestampMask
}

// AppendHeader appends the little-endian encoding of h to buf
func AppendHeader(buf []byte, h Header) []byte {
	return binary.LittleEndian.AppendUint32(buf, h.Word())
}

// String returns a human-readable representation of the header
func (h Header) String() string {
	return fmt.Sprintf("Header{Type:%s, RawTimestamp:%d}", h.Type, h.RawTimestamp)
}

// String returns the recorder's name for the type
func (t MeasurementType) String() string {
	switch t {
	case TypeStart:
		return "START"
	case TypeAHRS:
		return "AHRS"
	case TypeAcceleration:
		return "ACCELERATION"
	case TypeGyro:
		return "GYRO"
	case TypeMag:
		return "MAG"
	case TypeBarom:
		return "BAROM"
	default:
		return fmt.Sprintf("Reserved(%d)", uint8(t))
	}
}

// BarometricSample is the pressure/temperature payload
// Layout: [Pressure:4][Temperature:4], signed little-endian
type BarometricSample struct {
	Pressure    int32
	Temperature int32
}

// DecodeBarometric reads exactly one barometric payload from r
func DecodeBarometric(r io.Reader) (Payload, error) {
	var buf [BarometricSize]byte
	if err := ReadFull(r, buf[:]); err != nil {
		return nil, fmt.Errorf("barometric payload: %w", err)
	}
	return BarometricSample{
		Pressure:    int32(binary.LittleEndian.Uint32(buf[0:4])),
		Temperature: int32(binary.LittleEndian.Uint32(buf[4:8])),
	}, nil
}

// AppendBarometric appends the wire encoding of s to buf
func AppendBarometric(buf []byte, s BarometricSample) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(s.Pressure))
	return binary.LittleEndian.AppendUint32(buf, uint32(s.Temperature))
}

// Fields implements Payload
func (s BarometricSample) Fields() []int64 {
	return []int64{int64(s.Pressure), int64(s.Temperature)}
}

// String returns a human-readable representation of the barometric sample
func (s BarometricSample) String() string {
	return fmt.Sprintf("BarometricSample{Pressure:%d, Temperature:%d}", s.Pressure, s.Temperature)
}

// ReadFull fills buf from r. Any short read, including an empty one, is
// reported as ErrTruncatedRecord; read failures are passed through.
func ReadFull(r io.Reader, buf []byte) error {
	n, err := io.ReadFull(r, buf)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("expected %d bytes, got %d: %w", len(buf), n, ErrTruncatedRecord)
	default:
		return err
	}
}
