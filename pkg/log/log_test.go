package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, ErrorLevel, ParseLevel("error"))
	assert.Equal(t, InfoLevel, ParseLevel(""))
	assert.Equal(t, InfoLevel, ParseLevel("verbose"))
}

func TestScopedLoggers(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})
	defer Init(Config{Level: InfoLevel})

	runner := WithComponent("runner")
	runner.Info().Msg("batch")
	member := WithMember(7)
	member.Debug().Msg("job")
	caseLogger := WithCase("prior")
	caseLogger.Warn().Msg("case")
	ministep := WithMinistep("ALL_ACTIVE")
	ministep.Error().Msg("ministep")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 4)

	entries := make([]map[string]any, len(lines))
	for i, line := range lines {
		require.NoError(t, json.Unmarshal(line, &entries[i]))
	}
	assert.Equal(t, "runner", entries[0]["component"])
	assert.Equal(t, float64(7), entries[1]["iens"])
	assert.Equal(t, "debug", entries[1]["level"])
	assert.Equal(t, "prior", entries[2]["case"])
	assert.Equal(t, "ALL_ACTIVE", entries[3]["ministep"])
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})
	defer Init(Config{Level: InfoLevel})

	logger := WithComponent("update")
	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())
	logger.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}
