package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skypro1111/nanoflight-decoder/internal/config"
)

func TestLoggingFor(t *testing.T) {
	tests := []struct {
		name            string
		output          string
		decodedToStdout bool
		expected        string
	}{
		{name: "stdout logs moved off decoded output", output: "stdout", decodedToStdout: true, expected: "stderr"},
		{name: "stdout logs kept for file output", output: "stdout", decodedToStdout: false, expected: "stdout"},
		{name: "stderr unchanged", output: "stderr", decodedToStdout: true, expected: "stderr"},
		{name: "log file unchanged", output: "/var/log/nanodecode.log", decodedToStdout: true, expected: "/var/log/nanodecode.log"},
		{name: "empty means stderr", output: "", decodedToStdout: true, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.LoggingConfig{Level: "info", Format: "json", Output: tt.output}
			got := loggingFor(cfg, tt.decodedToStdout)
			assert.Equal(t, tt.expected, got.Output)
			assert.Equal(t, "json", got.Format)
			assert.Equal(t, tt.output, cfg.Output, "input config must not change")
		})
	}
}
