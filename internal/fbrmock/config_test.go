package fbrmock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
port: 9099
token: sandbox-token
latency: 150ms
reject_scenarios: [SN006, SN026]
`))
	require.NoError(t, err)

	assert.Equal(t, 9099, cfg.Port)
	assert.Equal(t, "sandbox-token", cfg.Token)
	assert.Equal(t, 150*time.Millisecond, cfg.Latency)
	assert.Equal(t, []string{"SN006", "SN026"}, cfg.RejectScenarios)
}

func TestParseConfigDefaultsAndErrors(t *testing.T) {
	cfg, err := ParseConfig([]byte(`token: x`))
	require.NoError(t, err)
	assert.Equal(t, 8090, cfg.Port)

	_, err = ParseConfig([]byte(`latency: soon`))
	assert.Error(t, err)

	_, err = ParseConfig([]byte(`port: 70000`))
	assert.Error(t, err)
}
