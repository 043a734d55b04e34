// Package lockfile guards a NudgePipe state directory against concurrent use.
//
// The lock is an flock on a file inside the state directory, so the kernel
// drops it when the holder exits, however it exits. The file records who holds
// it so a refused process can say why.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the lock file created in the state directory.
const LockFileName = "nudgepipe.lock"

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID     int
	Role    string // "serve" or "tick"
	Started time.Time
}

func (h Holder) String() string {
	s := fmt.Sprintf("PID %d", h.PID)
	if h.Role != "" {
		s += " (" + h.Role + ")"
	}
	if !h.Started.IsZero() {
		s += " since " + h.Started.Format(time.RFC3339)
	}
	return s
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// AcquireLock takes the lock on stateDir for role, creating the directory if
// needed. It fails immediately with a *LockError when another process holds it.
func AcquireLock(stateDir, role string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, LockFileName)

	// Not O_TRUNC: the current holder's record must survive a refused attempt.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		holder, _ := readHolder(path)
		file.Close()
		slog.Warn("lockfile.AcquireLock: state directory busy", "lock_path", path, "holder", holder)
		return nil, &LockError{LockPath: path, Holder: holder, Cause: err}
	}

	self := Holder{PID: os.Getpid(), Role: role, Started: time.Now().UTC().Truncate(time.Second)}
	if err := writeHolder(file, self); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock file %s: %w", path, err)
	}
	slog.Info("lockfile.AcquireLock: state directory locked", "lock_path", path, "pid", self.PID, "role", role)
	return &Lock{file: file, path: path}, nil
}

// Release unlocks and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove while still holding the lock so no one else's file is deleted.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lock.Release: failed to remove lock file", "lock_path", l.path, "error", err)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("Lock.Release: failed to unlock", "lock_path", l.path, "error", err)
	}
	err := l.file.Close()
	l.file = nil
	slog.Info("Lock.Release: state directory unlocked", "lock_path", l.path)
	return err
}

// LockError reports that another process holds the state directory.
type LockError struct {
	LockPath string
	Holder   Holder
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	b.WriteString("another NudgePipe process is using this state directory")
	fmt.Fprintf(&b, "\n\nLock file: %s", e.LockPath)
	if e.Holder.PID > 0 {
		state := "running"
		if !isProcessRunning(e.Holder.PID) {
			state = "not running, stale lock"
		}
		fmt.Fprintf(&b, "\nHolder: %s, %s", e.Holder, state)
	}
	if e.Holder.Role == "serve" {
		b.WriteString("\n\nA server is running; trigger ticks with POST /ticks/{kind} instead.")
	}
	b.WriteString("\n\nOnly remove the lock file if no other NudgePipe process is running:\n  rm " + e.LockPath)
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

func writeHolder(f *os.File, h Holder) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\nrole=%s\nstarted=%s\n", h.PID, h.Role, h.Started.Format(time.RFC3339))
	if err != nil {
		return err
	}
	return f.Sync()
}

func readHolder(path string) (Holder, error) {
	f, err := os.Open(path)
	if err != nil {
		return Holder{}, err
	}
	defer f.Close()
	return parseHolder(bufio.NewScanner(f)), nil
}

// parseHolder reads key=value lines. Unknown keys and bad values are ignored.
func parseHolder(sc *bufio.Scanner) Holder {
	var h Holder
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			h.PID, _ = strconv.Atoi(value)
		case "role":
			h.Role = value
		case "started":
			h.Started, _ = time.Parse(time.RFC3339, value)
		}
	}
	return h
}

// isProcessRunning probes pid with signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
