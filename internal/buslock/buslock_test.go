package buslock

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireThenReleaseAllowsReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.lock")

	l := New(path)
	require.NoError(t, l.Acquire())
	require.NoError(t, l.Release())

	l2 := New(path)
	require.NoError(t, l2.Acquire())
	require.NoError(t, l2.Release())
}

func TestSecondAcquireFromSameProcessFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.lock")

	l := New(path)
	require.NoError(t, l.Acquire())
	defer l.Release()

	other := New(path)
	err := other.Acquire()
	require.ErrorIs(t, err, ErrLockBusy)
}

func TestAcquireReclaimsStaleLockFromDeadPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.lock")

	// A PID that is vanishingly unlikely to be running, with no flock
	// held on the file: Acquire should treat this as a stale lock left
	// behind by an unclean shutdown and reclaim it rather than failing.
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(1<<30)), 0o600))

	l := New(path)
	require.NoError(t, l.Acquire())
	defer l.Release()

	pid, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid()), string(pid))
}
