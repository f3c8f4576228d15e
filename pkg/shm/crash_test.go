//go:build linux

package shm

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	helperBufferEnv = "ZEROBUFFER_HELPER_BUFFER"
	helperRoleEnv   = "ZEROBUFFER_HELPER_ROLE"
)

// TestHelperProcess is not a real test. It is re-executed by the crash
// tests to hold one side of a buffer in a separate process until killed.
func TestHelperProcess(t *testing.T) {
	name := os.Getenv(helperBufferEnv)
	if name == "" {
		return
	}
	cfg := testConfig(64, 1024)
	ctx := context.Background()

	switch Role(os.Getenv(helperRoleEnv)) {
	case RoleWriter:
		w, err := OpenWriter(name, cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(3)
		}
		if err := w.WriteFrame(ctx, []byte("alive"), time.Second); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(3)
		}
	case RoleReader:
		if _, err := OpenReader(ctx, name, 5*time.Second, cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(3)
		}
	}
	fmt.Println("ready")
	time.Sleep(time.Minute)
	os.Exit(0)
}

func startHelper(t *testing.T, name string, role Role) *exec.Cmd {
	t.Helper()
	cmd := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$")
	cmd.Env = append(os.Environ(), helperBufferEnv+"="+name, helperRoleEnv+"="+string(role))
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})

	ready := make(chan bool, 1)
	go func() {
		sc := bufio.NewScanner(stdout)
		for sc.Scan() {
			if sc.Text() == "ready" {
				ready <- true
				return
			}
		}
		ready <- false
	}()
	select {
	case ok := <-ready:
		require.True(t, ok, "helper exited before becoming ready")
	case <-time.After(10 * time.Second):
		t.Fatal("helper did not become ready")
	}
	return cmd
}

func kill(t *testing.T, cmd *exec.Cmd) {
	require.NoError(t, cmd.Process.Kill())
	_ = cmd.Wait()
}

func TestWriterCrashUnblocksReader(t *testing.T) {
	cfg := testConfig(64, 1024)
	cfg.LivenessInterval = 50 * time.Millisecond
	name := testBufferName()
	r, err := NewReader(name, cfg)
	require.NoError(t, err)
	defer r.Close()

	cmd := startHelper(t, name, RoleWriter)
	ctx := context.Background()
	f, err := r.ReadFrame(ctx, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "alive", string(f.Data()))
	assert.True(t, r.PeerAlive())
	f.Release()

	done := make(chan error, 1)
	go func() {
		_, err := r.ReadFrame(ctx, 30*time.Second)
		done <- err
	}()
	time.Sleep(100 * time.Millisecond)
	kill(t, cmd)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrWriterDead)
	case <-time.After(2 * time.Second):
		t.Fatal("reader still blocked after the writer was killed")
	}
}

func TestReaderCrashUnblocksWriter(t *testing.T) {
	cfg := testConfig(64, 256)
	cfg.LivenessInterval = 50 * time.Millisecond
	name := testBufferName()
	w, err := OpenWriter(name, cfg)
	require.NoError(t, err)
	defer w.Close()

	cmd := startHelper(t, name, RoleReader)
	ctx := context.Background()
	require.NoError(t, w.WriteFrame(ctx, pattern(200, 1), time.Second))
	require.Eventually(t, w.PeerAlive, time.Second, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- w.WriteFrame(ctx, pattern(200, 2), 30*time.Second)
	}()
	time.Sleep(100 * time.Millisecond)
	kill(t, cmd)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrReaderDead)
	case <-time.After(2 * time.Second):
		t.Fatal("writer still blocked after the reader was killed")
	}
}
