package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/nanoflight-decoder/internal/batch"
	"github.com/skypro1111/nanoflight-decoder/internal/config"
	"github.com/skypro1111/nanoflight-decoder/internal/metrics"
	"github.com/skypro1111/nanoflight-decoder/internal/protocol"
)

func newTestServer(t *testing.T, maxBody int64) *HTTPServer {
	t.Helper()
	cfg := config.Default()
	cfg.HTTP.MaxBodyBytes = maxBody
	return newTestServerWithConfig(t, cfg)
}

func newTestServerWithConfig(t *testing.T, cfg *config.Config) *HTTPServer {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := batch.NewManager(batch.Config{
		Version:      cfg.Decoder.Version(),
		OutputSuffix: cfg.Decoder.OutputSuffix,
		MaxParallel:  cfg.Decoder.MaxParallel,
		BufferSize:   cfg.Decoder.BufferSize,
	}, logger, m)

	return NewHTTPServer(cfg, logger, mgr, m, reg)
}

func encodeRecord(buf []byte, mt protocol.MeasurementType, raw uint32, p, temp int32) []byte {
	buf = protocol.AppendHeader(buf, protocol.Header{Type: mt, RawTimestamp: raw})
	if mt == protocol.TypeStart {
		buf = protocol.AppendBarometric(buf, protocol.BarometricSample{Pressure: p, Temperature: temp})
	}
	return buf
}

func post(h http.Handler, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/decode", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleDecode(t *testing.T) {
	srv := newTestServer(t, 1<<20)

	body := encodeRecord(nil, protocol.TypeStart, 16, 101325, 250)
	body = encodeRecord(body, protocol.TypeStart, 17, 101320, 251)

	rec := post(srv.Handler(), body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "16 101325 250 \n17 101320 251 \n", rec.Body.String())
	assert.Equal(t, "2", rec.Header().Get("X-Records"))
	assert.NotEmpty(t, rec.Header().Get("X-Job-ID"))
	assert.Empty(t, rec.Header().Get(DecodeErrorHeader))
}

func TestHandleDecodePartial(t *testing.T) {
	srv := newTestServer(t, 1<<20)

	tests := []struct {
		name     string
		body     []byte
		expected string
		errorMsg string
	}{
		{
			name:     "unsupported type",
			body:     encodeRecord(encodeRecord(nil, protocol.TypeStart, 1, 10, 20), protocol.TypeMag, 2, 0, 0),
			expected: "1 10 20 \n",
			errorMsg: "unsupported measurement type",
		},
		{
			name:     "truncated payload",
			body:     append(encodeRecord(nil, protocol.TypeStart, 1, 10, 20), 0, 0, 0, 0, 1, 2),
			expected: "1 10 20 \n",
			errorMsg: "truncated record",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(srv.Handler(), tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Equal(t, tt.expected, rec.Body.String())
			assert.Contains(t, rec.Header().Get(DecodeErrorHeader), tt.errorMsg)
		})
	}
}

func TestHandleDecodeCancelled(t *testing.T) {
	srv := newTestServer(t, 1<<20)

	body := encodeRecord(nil, protocol.TypeStart, 1, 10, 20)
	body = encodeRecord(body, protocol.TypeStart, 2, 11, 21)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/decode", bytes.NewReader(body)).WithContext(ctx)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, rec.Header().Get(DecodeErrorHeader))
}

func TestHandleDecodeBodyTooLarge(t *testing.T) {
	srv := newTestServer(t, 16)

	var body []byte
	for i := 0; i < 4; i++ {
		body = encodeRecord(body, protocol.TypeStart, uint32(i), 1, 1)
	}

	rec := post(srv.Handler(), body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandleDecodeMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, 1<<20)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/decode", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleStats(t *testing.T) {
	srv := newTestServer(t, 1<<20)
	post(srv.Handler(), encodeRecord(nil, protocol.TypeStart, 1, 1, 1))
	post(srv.Handler(), encodeRecord(nil, protocol.TypeGyro, 1, 0, 0))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Totals     batch.Totals `json:"totals"`
		ActiveJobs int          `json:"active_jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(2), resp.Totals.Jobs)
	assert.Equal(t, uint64(1), resp.Totals.Failed)
	assert.Equal(t, uint64(1), resp.Totals.Records)
	assert.Equal(t, 0, resp.ActiveJobs)
}

func TestHandleMetrics(t *testing.T) {
	srv := newTestServer(t, 1<<20)
	post(srv.Handler(), encodeRecord(nil, protocol.TypeStart, 1, 1, 1))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `nanoflight_records_decoded_total{type="START"} 1`)
	assert.Contains(t, body, "nanoflight_http_requests_total")
}

func TestHandleHealthAndRoot(t *testing.T) {
	srv := newTestServer(t, 1<<20)

	for _, path := range []string{"/health", "/", "/jobs", "/config"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json"), path)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartStop(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Port = 0 // ephemeral
	srv := newTestServerWithConfig(t, cfg)
	assert.Nil(t, srv.Addr())

	require.NoError(t, srv.Start())
	require.NotNil(t, srv.Addr())
	assert.Error(t, srv.Start(), "second Start on a running server")

	resp, err := http.Get(fmt.Sprintf("http://%s/health", srv.Addr()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Stop(context.Background()))
	select {
	case err := <-srv.Err():
		t.Fatalf("unexpected serve error after Stop: %v", err)
	default:
	}
}

func TestStartBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	tests := []struct {
		name    string
		address string
		port    int
	}{
		{name: "port already bound", address: "127.0.0.1", port: ln.Addr().(*net.TCPAddr).Port},
		{name: "malformed address", address: "127.0.0.1:99", port: 8080},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.HTTP.Address = tt.address
			cfg.HTTP.Port = tt.port
			srv := newTestServerWithConfig(t, cfg)

			err := srv.Start()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "failed to listen on")
			assert.Nil(t, srv.Addr())
		})
	}
}
