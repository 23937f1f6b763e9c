package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWritesRenamedKeys(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := Setup("bookgatewayd", "test", Options{Level: "debug", Output: &buf})
	require.NoError(t, err)
	defer closer.Close()

	logger.Debug("decoded book", slog.Uint64("book_id", 7))
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "decoded book", line["message"])
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "bookgatewayd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
	require.EqualValues(t, 7, line["book_id"])
}

func TestSetupFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := Setup("bookctl", "", Options{Level: "warn", Output: &buf})
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("hidden")
	require.Zero(t, buf.Len())
	logger.Warn("shown")
	require.NotZero(t, buf.Len())
}

func TestSetupRotatingFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "bookchain.log")
	logger, closer, err := Setup("bookctl", "", Options{File: path, MaxSizeMB: 1, Output: &buf})
	require.NoError(t, err)
	logger.Info("to file")
	require.NoError(t, closer.Close())
	require.FileExists(t, path)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("")
	require.NoError(t, err)
	require.Equal(t, slog.LevelInfo, level)

	level, err = ParseLevel("ERROR")
	require.NoError(t, err)
	require.Equal(t, slog.LevelError, level)

	_, err = ParseLevel("chatty")
	require.Error(t, err)
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("pinning_token", "abc").Value.String())
	require.Equal(t, "", MaskField("pinning_token", "").Value.String())
	require.Equal(t, "0xabc", MaskField("account", "0xabc").Value.String())
}

func TestMaskURL(t *testing.T) {
	require.Equal(t, "https://mainnet.infura.io/v3/redacted",
		MaskURL("https://mainnet.infura.io/v3/0123456789abcdef0123456789abcdef"))
	require.Equal(t, "https://redacted@rpc.example.org/?redacted",
		MaskURL("https://user:pw@rpc.example.org/?apikey=xyz"))
	require.Equal(t, "http://127.0.0.1:8545", MaskURL("http://127.0.0.1:8545"))
}
