//go:build e2e

package e2e

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

const (
	tokenA = "e2e-token-a"
	tokenB = "e2e-token-b"
)

// ledgersyncServer manages a running ledgersync server process.
type ledgersyncServer struct {
	cmd     *exec.Cmd
	dataDir string
	address string
	logFile string
	extra   []string
}

// startLedgersync launches the binary and waits for it to become healthy.
// The server is configured entirely via environment variables.
func startLedgersync(t *testing.T, extraEnv ...string) *ledgersyncServer {
	t.Helper()
	requireLedgersync(t)
	return startOn(t, t.TempDir(), extraEnv)
}

func startOn(t *testing.T, dataDir string, extraEnv []string) *ledgersyncServer {
	t.Helper()

	port := freePort(t)
	s := &ledgersyncServer{
		dataDir: dataDir,
		address: fmt.Sprintf("127.0.0.1:%d", port),
		logFile: filepath.Join(dataDir, fmt.Sprintf("ledgersync-%d.log", port)),
		extra:   extraEnv,
	}

	cmd := exec.Command(ledgersyncBin)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("LEDGER_PORT=%d", port),
		"LEDGER_DB_PATH="+filepath.Join(dataDir, "ledgersync.db"),
		"LEDGER_AUTH_TOKENS="+tokenA+":user-a,"+tokenB+":user-b",
		"LEDGER_CONFIG_PATH="+filepath.Join(dataDir, "nonexistent.yaml"), // skip YAML file
		"LEDGER_CORS_ORIGINS=https://app.example.com",
	)
	cmd.Env = append(cmd.Env, extraEnv...)

	lf, err := os.Create(s.logFile)
	if err != nil {
		t.Fatalf("create log file: %v", err)
	}
	cmd.Stdout = lf
	cmd.Stderr = lf

	if err := cmd.Start(); err != nil {
		lf.Close()
		t.Fatalf("start ledgersync: %v", err)
	}
	s.cmd = cmd

	t.Cleanup(func() {
		s.stop()
		lf.Close()
	})

	if err := s.waitHealthy(10 * time.Second); err != nil {
		logs, _ := os.ReadFile(s.logFile)
		t.Fatalf("ledgersync not healthy: %v\n%s", err, logs)
	}
	return s
}

func (s *ledgersyncServer) stop() {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Signal(os.Interrupt)
		_ = s.cmd.Wait()
		s.cmd = nil
	}
}

// restart stops the server and starts a new one on the same data directory.
func (s *ledgersyncServer) restart(t *testing.T) *ledgersyncServer {
	t.Helper()
	s.stop()
	return startOn(t, s.dataDir, s.extra)
}

func (s *ledgersyncServer) baseURL() string {
	return "http://" + s.address
}

func (s *ledgersyncServer) waitHealthy(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := s.baseURL() + "/health"

	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("ledgersync not healthy after %s", timeout)
}

// freePort returns a free TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
