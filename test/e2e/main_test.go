package e2e

import (
	"os"
	"os/exec"
	"testing"
)

var ledgersyncBin string

func TestMain(m *testing.M) {
	ledgersyncBin = envOrLookPath("LEDGERSYNC_BIN", "ledgersync")
	os.Exit(m.Run())
}

func envOrLookPath(envVar, name string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	return ""
}

func requireLedgersync(t *testing.T) {
	t.Helper()
	if ledgersyncBin == "" {
		t.Skip("ledgersync binary not available (set LEDGERSYNC_BIN or add to PATH)")
	}
}
