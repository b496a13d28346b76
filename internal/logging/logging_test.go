package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetLogger restores the default logger after a test reconfigures it.
func resetLogger(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		Close()
		Init()
	})
}

func TestInit_LevelFiltersOutput(t *testing.T) {
	resetLogger(t)
	var buf bytes.Buffer
	Init(WithLevel(WarnLevel), WithConsole(&buf))

	Info().Msg("quiet")
	Warn().Msg("loud")

	out := buf.String()
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, "loud")
}

func TestInit_FileSinkAppendsDaily(t *testing.T) {
	resetLogger(t)
	dir := t.TempDir()

	Init(WithConsole(&bytes.Buffer{}), WithFileSink(dir))
	Info().Msg("first run")
	Close()

	Init(WithConsole(&bytes.Buffer{}), WithFileSink(dir))
	Info().Msg("second run")
	Close()

	name := "snow-" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	// Both runs landed in the same daily file.
	assert.Contains(t, string(data), "first run")
	assert.Contains(t, string(data), "second run")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFor_TagsComponent(t *testing.T) {
	resetLogger(t)
	var buf bytes.Buffer
	Init(WithConsole(&buf))

	log := For("decoder")
	log.Info().Msg("tagged")

	var entry map[string]any
	line := strings.TrimSpace(buf.String())
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "decoder", entry["component"])
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		" warn ":  WarnLevel,
		"warning": WarnLevel,
		"ERROR":   ErrorLevel,
		"fatal":   FatalLevel,
		"bogus":   InfoLevel,
		"":        InfoLevel,
	}
	for input, want := range cases {
		assert.Equal(t, want, ParseLevel(input), "input %q", input)
	}
}
