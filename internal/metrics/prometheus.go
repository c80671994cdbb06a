package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/skypro1111/nanoflight-decoder/internal/protocol"
)

// Error kinds used as the "kind" label on DecodeErrors
const (
	ErrorKindTruncated   = "truncated"
	ErrorKindUnsupported = "unsupported_type"
	ErrorKindVersion     = "unsupported_version"
	ErrorKindCanceled    = "canceled"
	ErrorKindIO          = "io"
)

// Metrics contains all Prometheus metrics for the log decoder
type Metrics struct {
	// Decode metrics
	FilesDecoded   prometheus.Counter
	RecordsDecoded *prometheus.CounterVec
	Wraparounds    prometheus.Counter
	BytesRead      prometheus.Counter
	DecodeErrors   *prometheus.CounterVec
	DecodeDuration prometheus.Histogram
	ActiveDecodes  prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FilesDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "nanoflight_files_decoded_total",
			Help: "Total number of log files decoded, successful or not",
		}),
		RecordsDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nanoflight_records_decoded_total",
			Help: "Total number of records decoded",
		}, []string{"type"}),
		Wraparounds: factory.NewCounter(prometheus.CounterOpts{
			Name: "nanoflight_timestamp_wraparounds_total",
			Help: "Total number of timestamp counter wraparounds corrected",
		}),
		BytesRead: factory.NewCounter(prometheus.CounterOpts{
			Name: "nanoflight_bytes_read_total",
			Help: "Total number of log bytes consumed",
		}),
		DecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nanoflight_decode_errors_total",
			Help: "Total number of decodes aborted, by error kind",
		}, []string{"kind"}),
		DecodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nanoflight_decode_duration_seconds",
			Help:    "Time spent decoding one log",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}),
		ActiveDecodes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nanoflight_active_decodes",
			Help: "Current number of logs being decoded",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nanoflight_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nanoflight_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// DecodeStarted marks a decode as in flight
func (m *Metrics) DecodeStarted() {
	m.ActiveDecodes.Inc()
}

// RecordDecode records the outcome of one finished decode
func (m *Metrics) RecordDecode(wraparounds uint64, bytes int64, durationSeconds float64, err error) {
	m.ActiveDecodes.Dec()
	m.FilesDecoded.Inc()
	m.Wraparounds.Add(float64(wraparounds))
	m.BytesRead.Add(float64(bytes))
	m.DecodeDuration.Observe(durationSeconds)
	if err != nil {
		m.DecodeErrors.WithLabelValues(ErrorKind(err)).Inc()
	}
}

// RecordSample counts one decoded record
func (m *Metrics) RecordSample(mt protocol.MeasurementType) {
	m.RecordsDecoded.WithLabelValues(mt.String()).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// ErrorKind classifies a decode error for labelling
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, protocol.ErrTruncatedRecord):
		return ErrorKindTruncated
	case errors.Is(err, protocol.ErrUnsupportedMeasurementType):
		return ErrorKindUnsupported
	case errors.Is(err, protocol.ErrUnsupportedVersion):
		return ErrorKindVersion
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindCanceled
	default:
		return ErrorKindIO
	}
}
