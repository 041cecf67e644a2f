package state

import (
	"fmt"
	"os"
	"time"
)

// writeLockFile writes a lock file as if held by pid, then backdates its
// mtime, for exercising stale-lock reclamation in tests.
func writeLockFile(path string, pid int, mtime time.Time) error {
	content := fmt.Sprintf("%d:%d", pid, time.Now().UnixMilli())
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return err
	}
	return os.Chtimes(path, mtime, mtime)
}
