package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/calvinalkan/casino-ipc/internal/logging"
)

func Test_New_Writes_JSON_Records_At_Or_Above_Level(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	log, err := logging.New("warn", "json", &buf)
	require.NoError(t, err)

	log = logging.Role(log, "server", 42)
	log.Info("dropped")
	log.Warn("signal unavailable", zap.String("fallback", "polling"))

	var rec map[string]any

	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "warn", rec["level"])
	assert.Equal(t, "signal unavailable", rec["msg"])
	assert.Equal(t, "server", rec["role"])
	assert.InDelta(t, 42, rec["pid"], 0)
	assert.Equal(t, "polling", rec["fallback"])
}

func Test_New_Rejects_Unknown_Level_And_Format(t *testing.T) {
	t.Parallel()

	_, err := logging.New("loud", "console", &bytes.Buffer{})
	require.Error(t, err)

	_, err = logging.New("info", "xml", &bytes.Buffer{})
	require.Error(t, err)
}
