// Package lockfile keeps a single development host per lock path and records
// where it listens.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	ErrLocked = errors.New("development host is already running")
	ErrNoHost = errors.New("no development host is running")
)

// Holder describes the process owning a lock
type Holder struct {
	PID     int       `json:"pid"`
	Addr    string    `json:"addr"`
	Started time.Time `json:"started"`
}

// Lockfile is a held lock. Release removes it.
type Lockfile struct {
	path   string
	holder Holder
}

// Acquire creates the lock at path for this process. A lock left behind by a
// process that no longer runs is replaced.
func Acquire(path, addr string) (*Lockfile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lockfile directory: %w", err)
	}

	holder := Holder{PID: os.Getpid(), Addr: addr, Started: time.Now().UTC()}
	data, err := json.Marshal(holder)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
		if err == nil {
			_, werr := file.Write(append(data, '\n'))
			if serr := file.Sync(); werr == nil {
				werr = serr
			}
			if cerr := file.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("failed to write lockfile: %w", werr)
			}
			return &Lockfile{path: path, holder: holder}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lockfile: %w", err)
		}

		current, readErr := Read(path)
		if readErr == nil {
			return nil, fmt.Errorf("%w: pid %d on %s", ErrLocked, current.PID, current.Addr)
		}
		if !errors.Is(readErr, ErrNoHost) {
			return nil, readErr
		}
		// Stale; take it over
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lockfile: %w", err)
		}
	}

	return nil, fmt.Errorf("failed to acquire lockfile %s", path)
}

// Read returns the live holder of the lock at path. It returns ErrNoHost when
// the lock is missing, unreadable, or held by a process that has exited.
func Read(path string) (Holder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Holder{}, ErrNoHost
		}
		return Holder{}, err
	}

	var holder Holder
	if err := json.Unmarshal(data, &holder); err != nil || holder.PID <= 0 {
		return Holder{}, fmt.Errorf("%w: invalid lockfile", ErrNoHost)
	}
	if running, reason := isProcessRunning(holder.PID); !running {
		return Holder{}, fmt.Errorf("%w: %s", ErrNoHost, reason)
	}
	return holder, nil
}

// Holder returns what this lock recorded
func (l *Lockfile) Holder() Holder {
	return l.holder
}

// Path returns the lockfile path
func (l *Lockfile) Path() string {
	return l.path
}

// Release removes the lock
func (l *Lockfile) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lockfile: %w", err)
	}
	return nil
}
