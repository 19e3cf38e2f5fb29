// Package daemon implements the process-lifecycle mechanics
// oc-serverd's CLI surface needs (spec.md §6): dropping privileges to
// `-u <user>` and writing/removing a `-P <pidfile>`.
package daemon

import (
	"fmt"
	"os"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// DropPrivileges switches the process's uid/gid to the named user,
// matching the `-u` flag. It must be called after binding any
// privileged listener ports and before accepting untrusted input.
func DropPrivileges(username string) error {
	if username == "" {
		return nil
	}
	u, err := user.Lookup(username)
	if err != nil {
		return fmt.Errorf("daemon: looking up user %q: %w", username, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("daemon: parsing gid %q: %w", u.Gid, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("daemon: parsing uid %q: %w", u.Uid, err)
	}
	// Group must drop before user: once uid is unprivileged, a setgid
	// call will itself fail on most systems.
	if err := unix.Setgid(gid); err != nil {
		return fmt.Errorf("daemon: setgid(%d): %w", gid, err)
	}
	if err := unix.Setuid(uid); err != nil {
		return fmt.Errorf("daemon: setuid(%d): %w", uid, err)
	}
	return nil
}

// WritePIDFile writes the current process's pid to path, per `-P`.
func WritePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// RemovePIDFile removes the pidfile written by WritePIDFile, ignoring
// a missing file.
func RemovePIDFile(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
