package orchestrator

import (
	"os"
	"path/filepath"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"golang.org/x/sys/unix"
)

const lockFileName = ".granary.lock"

// workspaceLock is an exclusive, non-blocking lock on the workspace. Holding
// it guarantees no second build mutates the same output directories.
type workspaceLock struct {
	file *os.File
}

func acquireWorkspaceLock(root string) (*workspaceLock, error) {
	lockPath := filepath.Join(root, lockFileName)
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open workspace lock %s", lockPath)
	}

	err = unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		file.Close()
		if err == unix.EWOULDBLOCK {
			return nil, eris.Wrapf(ErrWorkspaceLocked, "%s is held by another build", lockPath)
		}
		return nil, eris.Wrapf(err, "failed to lock workspace %s", root)
	}

	// owner token only exists for debugging stale locks by hand
	file.Truncate(0)
	file.WriteAt([]byte(nanoid.New()), 0)

	return &workspaceLock{file: file}, nil
}

func (l *workspaceLock) Release() {
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	l.file.Close()
}
