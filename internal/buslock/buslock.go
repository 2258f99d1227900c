package buslock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Lock is the storage server's stand-in for the session-bus well-known
// service name: acquiring it guarantees a single server instance per
// user (or per --instance identifier). The real Akonadi server registers
// a D-Bus well-known name and aborts if a peer already holds it; since
// no session bus is available to this module, the guarantee is provided
// by an exclusive advisory flock on a PID file in the runtime directory.
type Lock struct {
	path string
	file *os.File
}

// New returns a Lock bound to the given path. The path is typically
// "<runtime-dir>/akonadiserver.lock", or
// "<runtime-dir>/akonadiserver-<instance>.lock" for a named instance.
func New(path string) *Lock {
	return &Lock{path: path}
}

// Acquire attempts to take the lock, writing the current PID into the
// lock file on success. Returns ErrLockBusy if another live process
// holds it. If the lock file is stale (holder PID no longer running),
// Acquire reclaims it automatically — mirroring how a restarted
// Akonadi server recovers from an unclean shutdown of its predecessor.
func (l *Lock) Acquire() error {
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("buslock: open %s: %w", l.path, err)
	}

	if err := flockExclusiveNonBlocking(f); err != nil {
		holderPID := readPID(f)
		f.Close()
		if holderPID > 0 && !isProcessRunning(holderPID) {
			// Stale lock: safe to steal since the flock itself was
			// released when the holder process exited. A second
			// attempt should now succeed.
			return l.Acquire()
		}
		return ErrLockBusy
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return fmt.Errorf("buslock: truncate %s: %w", l.path, err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		f.Close()
		return fmt.Errorf("buslock: write pid to %s: %w", l.path, err)
	}

	l.file = f
	return nil
}

// Release drops the lock and removes the lock file.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	err := flockUnlock(l.file)
	cerr := l.file.Close()
	l.file = nil
	os.Remove(l.path)
	if err != nil {
		return err
	}
	return cerr
}

func readPID(f *os.File) int {
	buf := make([]byte, 32)
	n, err := f.ReadAt(buf, 0)
	if err != nil && n == 0 {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0
	}
	return pid
}
