package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/ValentinMastro/EncodeTalker/internal/config"
	"github.com/ValentinMastro/EncodeTalker/internal/ipc"
	"github.com/ValentinMastro/EncodeTalker/internal/logging"
	"github.com/ValentinMastro/EncodeTalker/internal/testsupport"
)

func startPingServer(t *testing.T, cfg *config.Config) *ipc.Server {
	t.Helper()
	ln, err := ipc.Listen(cfg.Paths.SocketPath)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC test: %v", err)
		}
		t.Fatalf("ipc.Listen: %v", err)
	}
	handler := ipc.HandlerFunc(func(_ context.Context, req *ipc.Request) (*ipc.Response, error) {
		if req.Op == ipc.OpPing {
			return ipc.PongResponse(req.ID), nil
		}
		return nil, fmt.Errorf("unsupported %s", req.Op)
	})
	srv := ipc.NewServer(context.Background(), ln, handler, nil, logging.NewNop())
	srv.Serve()
	t.Cleanup(srv.Close)
	return srv
}

func writePID(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write pid file: %v", err)
	}
}

func TestRunningWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	running, err := Running(context.Background(), cfg.Paths.SocketPath)
	if err != nil {
		t.Fatalf("Running: %v", err)
	}
	if running {
		t.Fatal("expected no daemon")
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, err := Stop(context.Background(), cfg, time.Second)
	if !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestWaitForClientAndRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	startPingServer(t, cfg)

	client, err := WaitForClient(context.Background(), cfg.Paths.SocketPath, 2*time.Second)
	if err != nil {
		t.Fatalf("WaitForClient: %v", err)
	}
	_ = client.Close()

	running, err := Running(context.Background(), cfg.Paths.SocketPath)
	if err != nil || !running {
		t.Fatalf("Running = %v, %v; want true", running, err)
	}
}

func TestEnsureStartedReportsRunningDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	startPingServer(t, cfg)

	result, err := EnsureStarted(context.Background(), cfg.Paths.SocketPath, "/nonexistent/encodetalker", LaunchOptions{}, time.Second)
	if err != nil {
		t.Fatalf("EnsureStarted: %v", err)
	}
	if result.State != StartStateAlreadyRunning || result.Launched {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestWaitForClientTimesOut(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, err := WaitForClient(context.Background(), cfg.Paths.SocketPath, 300*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "daemon failed to start") {
		t.Fatalf("expected start failure, got %v", err)
	}
}

func TestWaitForShutdownAfterClose(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	srv := startPingServer(t, cfg)

	go func() {
		time.Sleep(100 * time.Millisecond)
		srv.Close()
	}()
	if err := WaitForShutdown(context.Background(), cfg.Paths.SocketPath, 3*time.Second); err != nil {
		t.Fatalf("WaitForShutdown: %v", err)
	}
}

func TestLaunchRequiresExecutable(t *testing.T) {
	if err := Launch("  ", LaunchOptions{}); err == nil {
		t.Fatal("expected error for empty executable")
	}
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "encodetalkerd.pid")
	if _, err := ReadPID(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist, got %v", err)
	}
	writePID(t, path, "4242\n")
	pid, err := ReadPID(path)
	if err != nil || pid != 4242 {
		t.Fatalf("ReadPID = %d, %v", pid, err)
	}
	writePID(t, path, "garbage")
	if _, err := ReadPID(path); err == nil {
		t.Fatal("expected error for invalid pid file")
	}
}

func TestForceKillRefusesSelf(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "encodetalkerd.pid")
	writePID(t, path, fmt.Sprintf("%d\n", os.Getpid()))
	if _, err := ForceKillProcess(path, ""); err == nil || !strings.Contains(err.Error(), "refusing") {
		t.Fatalf("expected refusal, got %v", err)
	}
}

func TestIsDaemonUnavailable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{err: os.ErrNotExist, want: true},
		{err: fmt.Errorf("dial: %w", syscall.ECONNREFUSED), want: true},
		{err: errors.New("boom"), want: false},
	}
	for _, tc := range cases {
		if got := isDaemonUnavailable(tc.err); got != tc.want {
			t.Fatalf("isDaemonUnavailable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
