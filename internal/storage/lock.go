package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const lockFile = "task.lock"

// taskLock is a PID file in the task directory. It keeps two processes
// from running the same task; a file left by a dead process is reclaimed.
type taskLock struct {
	path string
}

func acquireLock(dir string) (*taskLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create task directory: %w", err)
	}
	l := &taskLock{path: filepath.Join(dir, lockFile)}

	err := l.create()
	if errors.Is(err, os.ErrExist) {
		pid, alive := l.holder()
		if alive {
			return nil, fmt.Errorf("%w (pid %d)", ErrTaskBusy, pid)
		}
		if rmErr := os.Remove(l.path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("remove stale lock: %w", rmErr)
		}
		err = l.create()
		if errors.Is(err, os.ErrExist) {
			return nil, ErrTaskBusy
		}
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (l *taskLock) create() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(l.path)
		return fmt.Errorf("write lock file: %w", err)
	}
	return nil
}

// holder reports the PID recorded in the lock file and whether that
// process still runs. An unreadable file counts as stale.
func (l *taskLock) holder() (int, bool) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	if pid == os.Getpid() {
		return pid, true
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}
	return pid, proc.Signal(syscall.Signal(0)) == nil
}

func (l *taskLock) release() {
	os.Remove(l.path)
}
