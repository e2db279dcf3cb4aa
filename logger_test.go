package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestEventLogger_TailReturnsNewestLines(t *testing.T) {
	el := NewEventLogger(filepath.Join(t.TempDir(), "events.log"))
	for _, msg := range []string{"system reset", "access granted", "system locked"} {
		el.Log("%s", msg)
	}

	lines, err := el.Tail(2)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.True(t, strings.HasSuffix(lines[0], " - access granted"))
	require.True(t, strings.HasSuffix(lines[1], " - system locked"))

	all, err := el.Tail(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestEventLogger_TailMissingFile(t *testing.T) {
	el := NewEventLogger(filepath.Join(t.TempDir(), "absent.log"))
	_, err := el.Tail(10)
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger("debug", "json", &buf)
	require.Equal(t, logrus.DebugLevel, log.GetLevel())
	log.WithField("input", "reset").Info("edge")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "edge", entry["msg"])
	require.Equal(t, "reset", entry["input"])

	require.Equal(t, logrus.InfoLevel, newLogger("chatty", "text", &buf).GetLevel())
}
