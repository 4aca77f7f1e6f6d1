package logger_test

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/grid_ledger/internal/infrastructure/logger"
	"go.uber.org/zap"
)

func TestTailLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	var sb strings.Builder
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&sb, "line %d\n", i)
	}
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))

	tests := []struct {
		n    int
		want []string
	}{
		{3, []string{"line 8", "line 9", "line 10"}},
		{1, []string{"line 10"}},
		{0, nil},
	}
	for _, tt := range tests {
		got, err := logger.TailLines(path, tt.n)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "n=%d", tt.n)
	}

	all, err := logger.TailLines(path, 50)
	require.NoError(t, err)
	assert.Len(t, all, 10)
	assert.Equal(t, "line 1", all[0])
}

func TestTailLines_MissingFile(t *testing.T) {
	lines, err := logger.TailLines(filepath.Join(t.TempDir(), "nope.log"), 10)
	assert.NoError(t, err)
	assert.Nil(t, lines)
}

func TestNewFileLogger_WritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	log, err := logger.NewFileLogger("debug", logger.FileConfig{Path: path})
	require.NoError(t, err)

	log.Info("Seeded anchor", zap.Int("grid_level", 1), zap.Int64("shares", 31))
	_ = log.Sync()

	lines, err := logger.TailLines(path, 5)
	require.NoError(t, err)
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "Seeded anchor", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, float64(31), entry["shares"])
}
