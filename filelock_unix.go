//go:build unix

package mmarr

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// errFlockHeld is the internal signal that another descriptor holds the
// sidecar flock right now.
var errFlockHeld = errors.New("flock held")

// flockExclusiveNB takes a non-blocking exclusive flock on f, retrying EINTR.
func flockExclusiveNB(f *os.File) error {
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return nil
		}

		if errors.Is(err, unix.EINTR) {
			continue
		}

		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return errFlockHeld
		}

		return fmt.Errorf("flock: %w", err)
	}
}

// funlock drops the flock. Errors are ignored; closing the descriptor
// releases the lock regardless.
func funlock(f *os.File) {
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

// sameInodeAsPath reports whether f still refers to the file currently at
// path. flock binds to inodes, so a path replaced mid-acquisition must be
// detected and retried.
func sameInodeAsPath(f *os.File, path string) (bool, error) {
	openInfo, err := f.Stat()
	if err != nil {
		return false, err
	}

	openSys, ok := openInfo.Sys().(*syscall.Stat_t)
	if !ok || openSys == nil {
		return false, fmt.Errorf("file.Stat Sys=%T, want *syscall.Stat_t", openInfo.Sys())
	}

	pathInfo, err := os.Stat(path)
	if err != nil {
		return false, err
	}

	pathSys, ok := pathInfo.Sys().(*syscall.Stat_t)
	if !ok || pathSys == nil {
		return false, fmt.Errorf("os.Stat Sys=%T, want *syscall.Stat_t", pathInfo.Sys())
	}

	return openSys.Dev == pathSys.Dev && openSys.Ino == pathSys.Ino, nil
}

// pidAlive reports whether a process with the given PID exists. EPERM means
// it exists but belongs to another user.
func pidAlive(pid int) bool {
	err := unix.Kill(pid, 0)

	return err == nil || errors.Is(err, unix.EPERM)
}

// userHZ is the kernel clock tick rate used in /proc/<pid>/stat. Linux has
// reported 100 to userspace for decades regardless of CONFIG_HZ.
const userHZ = 100

var (
	bootTimeOnce sync.Once
	bootTimeVal  time.Time
	bootTimeErr  error
)

// bootTime reads the kernel boot timestamp from /proc/stat.
func bootTime() (time.Time, error) {
	bootTimeOnce.Do(func() {
		raw, err := os.ReadFile("/proc/stat")
		if err != nil {
			bootTimeErr = err

			return
		}

		for _, line := range strings.Split(string(raw), "\n") {
			if !strings.HasPrefix(line, "btime ") {
				continue
			}

			sec, parseErr := strconv.ParseInt(strings.TrimSpace(line[len("btime "):]), 10, 64)
			if parseErr != nil {
				bootTimeErr = fmt.Errorf("parse btime: %w", parseErr)

				return
			}

			bootTimeVal = time.Unix(sec, 0)

			return
		}

		bootTimeErr = errors.New("btime not found in /proc/stat")
	})

	return bootTimeVal, bootTimeErr
}

// processStartTime returns when the process with the given PID started.
// The readout is Linux-specific (/proc); callers fall back to the sidecar's
// record age when it fails.
func processStartTime(pid int) (time.Time, error) {
	raw, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return time.Time{}, err
	}

	// The comm field may contain spaces and parentheses; the fixed fields
	// resume after the last ')'.
	end := bytes.LastIndexByte(raw, ')')
	if end < 0 || end+2 >= len(raw) {
		return time.Time{}, fmt.Errorf("malformed stat for pid %d", pid)
	}

	fields := strings.Fields(string(raw[end+2:]))

	// starttime is field 22 of the full line; 19 fields past the state.
	const startTimeIdx = 19
	if len(fields) <= startTimeIdx {
		return time.Time{}, fmt.Errorf("short stat for pid %d", pid)
	}

	ticks, err := strconv.ParseUint(fields[startTimeIdx], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse starttime for pid %d: %w", pid, err)
	}

	boot, err := bootTime()
	if err != nil {
		return time.Time{}, err
	}

	sec := int64(ticks / userHZ)
	nsec := int64(ticks%userHZ) * (int64(time.Second) / userHZ)

	return boot.Add(time.Duration(sec)*time.Second + time.Duration(nsec)), nil
}
