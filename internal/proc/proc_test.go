package proc

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires unix process semantics")
	}
}

func waitExit(t *testing.T, h *Handle, d time.Duration) ExitState {
	t.Helper()
	select {
	case <-h.Exited():
	case <-time.After(d):
		t.Fatalf("process did not exit within %v", d)
	}
	st, ok := h.ExitState()
	if !ok {
		t.Fatalf("exit state not recorded after Exited closed")
	}
	return st
}

func TestSpawnEchoAndExitZero(t *testing.T) {
	requireUnix(t)
	h, err := Spawn(Config{Command: "/bin/sh", Args: []string{"-c", "echo hello"}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	out, err := io.ReadAll(h.Stdout())
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	if !strings.Contains(string(out), "hello") {
		t.Fatalf("stdout = %q, want hello", string(out))
	}
	st := waitExit(t, h, 5*time.Second)
	if st.Code != 0 || st.Err != nil || st.Signaled {
		t.Fatalf("unexpected exit state: %+v", st)
	}
}

func TestSpawnMissingBinary(t *testing.T) {
	h, err := Spawn(Config{Command: "previewd-test-no-such-binary"})
	if err == nil {
		t.Fatalf("expected launch error, got handle %+v", h)
	}
	if h != nil {
		t.Fatalf("no handle expected on failed launch")
	}
}

func TestSpawnEmptyCommand(t *testing.T) {
	if _, err := Spawn(Config{}); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestSpawnBadDir(t *testing.T) {
	requireUnix(t)
	_, err := Spawn(Config{Command: "/bin/sh", Args: []string{"-c", "true"}, Dir: "/definitely/not/a/dir"})
	if err == nil {
		t.Fatalf("expected error for missing workdir")
	}
}

func TestExitCodeNonZero(t *testing.T) {
	requireUnix(t)
	h, err := Spawn(Config{Command: "/bin/sh", Args: []string{"-c", "exit 3"}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	_, _ = io.Copy(io.Discard, h.Stdout())
	st := waitExit(t, h, 5*time.Second)
	if st.Code != 3 {
		t.Fatalf("exit code = %d, want 3", st.Code)
	}
	if st.Err == nil {
		t.Fatalf("nonzero exit should carry the wait error")
	}
}

func TestKillIdempotent(t *testing.T) {
	requireUnix(t)
	h, err := Spawn(Config{Command: "sleep", Args: []string{"30"}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if !h.Alive() {
		t.Fatalf("child should be alive right after spawn")
	}
	if err := h.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}
	st := waitExit(t, h, 5*time.Second)
	if !st.Signaled || st.Code != -1 {
		t.Fatalf("expected signaled exit, got %+v", st)
	}
	if err := h.Kill(); err != nil {
		t.Fatalf("second kill must be a no-op, got %v", err)
	}
	if h.Alive() {
		t.Fatalf("child reported alive after kill")
	}
}

func TestTerminateGraceful(t *testing.T) {
	requireUnix(t)
	h, err := Spawn(Config{Command: "/bin/sh", Args: []string{"-c", `trap 'exit 0' TERM; while :; do sleep 0.05; done`}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	go func() { _, _ = io.Copy(io.Discard, h.Stdout()) }()
	go func() { _, _ = io.Copy(io.Discard, h.Stderr()) }()
	// give the shell a moment to install the trap
	time.Sleep(150 * time.Millisecond)
	if err := h.Terminate(3 * time.Second); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	st := waitExit(t, h, time.Second)
	if st.Signaled {
		t.Fatalf("graceful stop should not look signaled: %+v", st)
	}
}

func TestTerminateEscalates(t *testing.T) {
	requireUnix(t)
	h, err := Spawn(Config{Command: "/bin/sh", Args: []string{"-c", `trap '' TERM; while :; do sleep 0.05; done`}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	go func() { _, _ = io.Copy(io.Discard, h.Stdout()) }()
	go func() { _, _ = io.Copy(io.Discard, h.Stderr()) }()
	time.Sleep(150 * time.Millisecond)
	if err := h.Terminate(200 * time.Millisecond); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	st := waitExit(t, h, time.Second)
	if !st.Signaled {
		t.Fatalf("expected SIGKILL escalation, got %+v", st)
	}
	if err := h.Terminate(time.Millisecond); err != nil {
		t.Fatalf("terminate after exit must be a no-op, got %v", err)
	}
}

func TestWorkdir(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	h, err := Spawn(Config{Command: "/bin/sh", Args: []string{"-c", "pwd"}, Dir: dir})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	out, _ := io.ReadAll(h.Stdout())
	waitExit(t, h, 5*time.Second)
	got := strings.TrimSpace(string(out))
	want, _ := filepath.EvalSymlinks(dir)
	gotResolved, _ := filepath.EvalSymlinks(got)
	if gotResolved != want {
		t.Fatalf("workdir = %q, want %q", got, want)
	}
}

func TestEnvPassthrough(t *testing.T) {
	requireUnix(t)
	h, err := Spawn(Config{
		Command: "/bin/sh",
		Args:    []string{"-c", "echo $PREVIEW_PROC_MARK"},
		Env:     append(os.Environ(), "PREVIEW_PROC_MARK=42"),
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	out, _ := io.ReadAll(h.Stdout())
	waitExit(t, h, 5*time.Second)
	if strings.TrimSpace(string(out)) != "42" {
		t.Fatalf("env not delivered: %q", string(out))
	}
}

func TestStderrStream(t *testing.T) {
	requireUnix(t)
	h, err := Spawn(Config{Command: "/bin/sh", Args: []string{"-c", "echo oops 1>&2"}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	go func() { _, _ = io.Copy(io.Discard, h.Stdout()) }()
	errOut, _ := io.ReadAll(h.Stderr())
	waitExit(t, h, 5*time.Second)
	if !strings.Contains(string(errOut), "oops") {
		t.Fatalf("stderr = %q, want oops", string(errOut))
	}
}

func TestCaptureTee(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "cap.log"))
	if err != nil {
		t.Fatalf("create capture file: %v", err)
	}
	h, err := Spawn(Config{
		Command:       "/bin/sh",
		Args:          []string{"-c", "echo captured-line"},
		CaptureStdout: f,
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	out, _ := io.ReadAll(h.Stdout())
	waitExit(t, h, 5*time.Second)
	if !strings.Contains(string(out), "captured-line") {
		t.Fatalf("stdout lost: %q", string(out))
	}
	data, err := os.ReadFile(filepath.Join(dir, "cap.log"))
	if err != nil {
		t.Fatalf("read capture: %v", err)
	}
	if !strings.Contains(string(data), "captured-line") {
		t.Fatalf("capture file = %q, want captured-line", string(data))
	}
}

func TestPTYSmoke(t *testing.T) {
	requireUnix(t)
	h, err := Spawn(Config{Command: "/bin/sh", Args: []string{"-c", "echo from-pty"}, UsePTY: true})
	if err != nil {
		t.Fatalf("spawn pty: %v", err)
	}
	// pty reads error out (EIO) once the child exits; collect what arrived.
	var got strings.Builder
	buf := make([]byte, 1024)
	for {
		n, rerr := h.Stdout().Read(buf)
		if n > 0 {
			got.Write(buf[:n])
		}
		if rerr != nil {
			break
		}
	}
	waitExit(t, h, 5*time.Second)
	if !strings.Contains(got.String(), "from-pty") {
		t.Fatalf("pty output = %q, want from-pty", got.String())
	}
	if data, _ := io.ReadAll(h.Stderr()); len(data) != 0 {
		t.Fatalf("pty stderr should be empty, got %q", string(data))
	}
}
