package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/skypro1111/nanoflight-decoder/internal/protocol"
)

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{fmt.Errorf("record at offset 4: %w", protocol.ErrTruncatedRecord), ErrorKindTruncated},
		{&protocol.UnsupportedTypeError{Type: protocol.TypeMag}, ErrorKindUnsupported},
		{fmt.Errorf("protocol version 7: %w", protocol.ErrUnsupportedVersion), ErrorKindVersion},
		{fmt.Errorf("after record 2: %w", context.Canceled), ErrorKindCanceled},
		{context.DeadlineExceeded, ErrorKindCanceled},
		{errors.New("permission denied"), ErrorKindIO},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, ErrorKind(tt.err), tt.err.Error())
	}
}

func TestRecordDecode(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.DecodeStarted()
	m.DecodeStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveDecodes))

	m.RecordDecode(2, 120, 0.01, nil)
	m.RecordDecode(0, 7, 0.01, protocol.ErrTruncatedRecord)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveDecodes))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FilesDecoded))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Wraparounds))
	assert.Equal(t, 127.0, testutil.ToFloat64(m.BytesRead))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecodeErrors.WithLabelValues(ErrorKindTruncated)))
}

func TestRecordSample(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordSample(protocol.TypeStart)
	m.RecordSample(protocol.TypeStart)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsDecoded.WithLabelValues("START")))
}
