package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withLogging restores the logging globals after a test.
func withLogging(t *testing.T) *bytes.Buffer {
	t.Helper()

	origHandler, origOut := appLogger.GetHandler(), logOutput
	origDebug, origFile := debugLog, logFile

	t.Cleanup(func() {
		appLogger.SetHandler(origHandler)
		logOutput, debugLog, logFile = origOut, origDebug, origFile
	})

	buf := &bytes.Buffer{}
	logOutput = buf

	return buf
}

func TestSetupLogging(t *testing.T) {
	tests := []struct {
		name      string
		debug     bool
		plain     bool
		wantDebug bool
	}{
		{name: "server at info", debug: false, plain: false, wantDebug: false},
		{name: "server with --debug", debug: true, plain: false, wantDebug: true},
		{name: "cli at info", debug: false, plain: true, wantDebug: false},
		{name: "cli with --debug", debug: true, plain: true, wantDebug: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := withLogging(t)
			debugLog, logFile = tt.debug, ""

			setupLogging(tt.plain)

			appLogger.Debug("debug line")
			appLogger.Info("info line")

			assert.Contains(t, buf.String(), "info line")
			assert.Equal(t, tt.wantDebug, bytes.Contains(buf.Bytes(), []byte("debug line")))

			if tt.plain {
				assert.Equal(t, "info line\n", lastLine(buf.String()))
			}
		})
	}
}

func TestSetupLoggingToFile(t *testing.T) {
	buf := withLogging(t)

	path := filepath.Join(t.TempDir(), "viewcount.log")
	debugLog, logFile = true, path

	setupLogging(true)
	appLogger.Debug("to the file", "n", 1)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `msg="to the file"`)
	assert.Empty(t, buf.String())
}

func lastLine(s string) string {
	i := bytes.LastIndexByte([]byte(s[:len(s)-1]), '\n')

	return s[i+1:]
}
