package signals

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startTrapping starts a shell that exits with code 7 on SIGUSR1 and waits
// until the trap is installed.
func startTrapping(t *testing.T) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("sh", "-c", `trap 'exit 7' USR1; echo ready; while :; do sleep 0.05; done`)
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())
	t.Cleanup(func() { _ = cmd.Process.Kill() })

	line, err := bufio.NewReader(stdout).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "ready\n", line)
	return cmd
}

func TestStartStop_RestoresRegistrations(t *testing.T) {
	baseline := make(map[os.Signal]int)
	for _, sig := range Forwarded {
		baseline[sig] = Active(sig)
	}

	for range 10 {
		f := Start(Forwarded, quietLogger())
		for _, sig := range Forwarded {
			assert.Equal(t, baseline[sig]+1, Active(sig), "signal %s", sig)
		}
		f.Stop()
	}

	for _, sig := range Forwarded {
		assert.Equal(t, baseline[sig], Active(sig), "signal %s", sig)
	}
}

func TestStop_Idempotent(t *testing.T) {
	before := Active(syscall.SIGTERM)
	f := Start(Forwarded, quietLogger())
	f.Stop()
	f.Stop()
	assert.Equal(t, before, Active(syscall.SIGTERM))
}

func TestForwarder_RelaysReceivedSignal(t *testing.T) {
	cmd := startTrapping(t)

	f := Start([]os.Signal{syscall.SIGUSR1}, quietLogger())
	defer f.Stop()
	f.Attach(cmd.Process)

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))

	err := cmd.Wait()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 7, exitErr.ExitCode())
}

func TestForwarder_HoldsSignalsUntilAttach(t *testing.T) {
	cmd := startTrapping(t)

	f := Start([]os.Signal{syscall.SIGUSR1}, quietLogger())
	defer f.Stop()

	f.Inject(syscall.SIGUSR1)
	f.Attach(cmd.Process)

	err := cmd.Wait()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 7, exitErr.ExitCode())
}

func TestForwarder_ExitedChildIsNotAnError(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())

	f := Start([]os.Signal{syscall.SIGUSR1}, quietLogger())
	f.Attach(cmd.Process)
	f.Inject(syscall.SIGUSR1)
	f.Stop()
}

func TestForwarder_ReportsSignalsDroppedWithoutChild(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	f := Start([]os.Signal{syscall.SIGUSR1}, logger)
	f.Inject(syscall.SIGTERM)
	f.Stop()

	assert.Equal(t, []os.Signal{syscall.SIGTERM}, f.Dropped())
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "dropping signal, no child was started")
	assert.Contains(t, logs.String(), "signal=terminated")
}

func TestForwarder_NothingDroppedOnceAttached(t *testing.T) {
	cmd := startTrapping(t)

	f := Start([]os.Signal{syscall.SIGUSR1}, quietLogger())
	f.Attach(cmd.Process)
	f.Inject(syscall.SIGUSR1)
	f.Stop()
	assert.Empty(t, f.Dropped())

	err := cmd.Wait()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 7, exitErr.ExitCode())
}
