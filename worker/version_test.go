package worker_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teranos/dmypyls/worker"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		output string
		want   string
	}{
		{"dmypy 1.10.0 (compiled: yes)\n", "1.10.0"},
		{"dmypy 0.971 (compiled: no)", "0.971.0"},
		{"dmypy 1.8.0+dev.8b0e4e6 (compiled: no)", "1.8.0+dev.8b0e4e6"},
	}

	for _, tt := range tests {
		t.Run(tt.output, func(t *testing.T) {
			v, err := worker.ParseVersion(tt.output)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.String())
		})
	}
}

func TestParseVersionMissing(t *testing.T) {
	_, err := worker.ParseVersion("dmypy: command not found")
	assert.Error(t, err)
}
