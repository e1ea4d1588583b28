package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brbranch/parmira/internal/model"
)

func withoutServiceDetection(t *testing.T) {
	t.Helper()
	orig := runningAsService
	runningAsService = func() bool { return false }
	t.Cleanup(func() {
		runningAsService = orig
		level.Set(0)
	})
}

func TestFileName(t *testing.T) {
	tests := map[string]string{
		ComponentTerminal: "terminal.log",
		ComponentMemory:   "memory.log",
		ComponentRAG:      "rag.log",
		ComponentIndexer:  "indexer.log",
		ComponentServer:   "mcpserver.log",
		"Agent":           "parmira.log",
	}
	for component, want := range tests {
		assert.Equal(t, want, FileName(component), component)
	}
}

func TestNewWithWriter_TerminalAndFile(t *testing.T) {
	withoutServiceDetection(t)
	dir := t.TempDir()
	t.Cleanup(func() { _ = Close() })

	var buf bytes.Buffer
	logger := NewWithWriter(model.LogConfig{Level: "info", Dir: dir, Stderr: true}, ComponentTerminal, &buf)
	logger.Info("step", "n", 1)
	logger.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "msg=step")
	assert.Contains(t, out, "component=TerminalAgent")
	assert.NotContains(t, out, "hidden")

	data, err := os.ReadFile(filepath.Join(dir, "terminal.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"TerminalAgent"`)
	assert.Contains(t, string(data), `"msg":"step"`)
}

func TestNewWithWriter_SharesFileWriter(t *testing.T) {
	withoutServiceDetection(t)
	dir := t.TempDir()
	t.Cleanup(func() { _ = Close() })

	cfg := model.LogConfig{Dir: dir}
	NewWithWriter(cfg, ComponentMemory, nil).Info("first")
	NewWithWriter(cfg, ComponentMemory, nil).Info("second")

	data, err := os.ReadFile(filepath.Join(dir, "memory.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
}

func TestNewWithWriter_NoHandlers(t *testing.T) {
	withoutServiceDetection(t)
	logger := NewWithWriter(model.LogConfig{}, ComponentRAG, nil)
	require.NotNil(t, logger)
	logger.Info("discarded")
}

func TestSetLevel(t *testing.T) {
	withoutServiceDetection(t)

	require.NoError(t, SetLevel("debug"))
	var buf bytes.Buffer
	NewWithWriter(model.LogConfig{Stderr: true}, ComponentIndexer, &buf).Debug("visible")
	assert.Contains(t, buf.String(), "visible")

	assert.Error(t, SetLevel("loud"))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", Preview("short", 50))
	assert.Equal(t, "abc...", Preview("abcdef", 3))
	assert.Equal(t, "記憶...", Preview("記憶システム", 2))
}

func TestToJournalKey(t *testing.T) {
	assert.Equal(t, "COMPONENT", toJournalKey("component"))
	assert.Equal(t, "TOOL_NAME", toJournalKey("tool.name"))
}
