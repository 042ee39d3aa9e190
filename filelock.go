package mmarr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/hujson"
)

// Default writer-lock acquisition parameters.
const (
	DefaultLockTimeout      = 5 * time.Second
	DefaultLockPollInterval = 25 * time.Millisecond

	// staleLockAge is the fallback staleness cutoff used when the owner's
	// process start time cannot be read.
	staleLockAge = 24 * time.Hour

	// startTimeTolerance absorbs clock-tick rounding when comparing a
	// recorded process start time against the live one.
	startTimeTolerance = 2 * time.Second
)

// LockOptions configures [AcquireLock].
type LockOptions struct {
	// Timeout bounds the total acquisition time. Zero means
	// [DefaultLockTimeout].
	Timeout time.Duration

	// PollInterval is the retry delay while another owner is live. Zero
	// means [DefaultLockPollInterval].
	PollInterval time.Duration
}

func (o LockOptions) withDefaults() LockOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultLockTimeout
	}

	if o.PollInterval <= 0 {
		o.PollInterval = DefaultLockPollInterval
	}

	return o
}

// lockMetadata is the sidecar's JSON record. Field names are part of the
// on-disk contract; unknown fields in foreign sidecars are ignored and a
// record that fails to parse is treated as stale.
type lockMetadata struct {
	Pid             int       `json:"Pid"`
	PidStartTimeUtc time.Time `json:"PidStartTimeUtc"`
	TimestampUtc    time.Time `json:"TimestampUtc"`
	Hostname        string    `json:"Hostname"`
	User            string    `json:"User"`
	LockId          string    `json:"LockId"`
	DataFilePath    string    `json:"DataFilePath"`
}

// FileLock is the held exclusive writer right for one data file. While held,
// no other process on the machine can acquire a writer lock for the same
// path. Release with [FileLock.Release].
type FileLock struct {
	mu       sync.Mutex
	lockPath string
	dataPath string
	file     *os.File
	meta     lockMetadata
	released bool
}

// DataPath returns the data file path this lock guards.
func (l *FileLock) DataPath() string { return l.dataPath }

// LockID returns the unique identity of this acquisition.
func (l *FileLock) LockID() string { return l.meta.LockId }

// AcquireLock grants the exclusive writer right for dataPath.
//
// The lock lives in a sidecar file at dataPath+".lock", created with
// O_CREAT|O_EXCL and holding a JSON record of the owner. An existing sidecar
// whose recorded owner is gone (PID dead, or PID reused by a process with a
// different start time, or unreadable record) is stale and taken over in
// place. A live owner is polled until the timeout.
//
// An flock on the sidecar guards the inspect-and-take-over window so two
// candidates cannot both conclude the sidecar is stale.
//
// Possible errors:
//   - [ErrLockTimeout]: a live owner persisted past the deadline
//   - I/O errors from the sidecar file
func AcquireLock(dataPath string, opts LockOptions) (*FileLock, error) {
	opts = opts.withDefaults()
	deadline := time.Now().Add(opts.Timeout)

	for {
		lock, err := tryAcquireLock(dataPath)
		if err == nil {
			return lock, nil
		}

		if !errors.Is(err, ErrLockContention) {
			return nil, err
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s not acquired within %s", ErrLockTimeout, dataPath, opts.Timeout)
		}

		remaining := time.Until(deadline)

		sleep := opts.PollInterval
		if sleep > remaining {
			sleep = remaining
		}

		time.Sleep(sleep)
	}
}

// TryAcquireLock attempts a single non-blocking acquisition.
//
// Possible errors:
//   - [ErrLockContention]: a live owner holds the lock
//   - I/O errors from the sidecar file
func TryAcquireLock(dataPath string) (*FileLock, error) {
	return tryAcquireLock(dataPath)
}

func tryAcquireLock(dataPath string) (*FileLock, error) {
	lockPath := dataPath + ".lock"

	file, created, err := openSidecar(lockPath)
	if err != nil {
		return nil, err
	}

	flockErr := flockExclusiveNB(file)
	if flockErr != nil {
		_ = file.Close()

		if errors.Is(flockErr, errFlockHeld) {
			return nil, fmt.Errorf("%w: %s held by a live process", ErrLockContention, lockPath)
		}

		return nil, flockErr
	}

	// flock binds to the inode, not the path. If the sidecar was unlinked or
	// replaced between open and flock we are holding an orphan; back off and
	// let the poll loop retry against the current file.
	match, matchErr := sameInodeAsPath(file, lockPath)
	if matchErr != nil || !match {
		funlock(file)
		_ = file.Close()

		if matchErr != nil && !errors.Is(matchErr, os.ErrNotExist) {
			return nil, fmt.Errorf("verify lock inode: %w", matchErr)
		}

		return nil, fmt.Errorf("%w: lock file replaced during acquisition", ErrLockContention)
	}

	if !created {
		live, liveErr := sidecarOwnerLive(file)
		if liveErr != nil {
			funlock(file)
			_ = file.Close()

			return nil, liveErr
		}

		if live {
			funlock(file)
			_ = file.Close()

			return nil, fmt.Errorf("%w: %s owner is alive", ErrLockContention, lockPath)
		}

		// Stale owner: truncate the record in place and take over.
		if err := file.Truncate(0); err != nil {
			funlock(file)
			_ = file.Close()

			return nil, fmt.Errorf("truncate stale lock: %w", err)
		}

		if _, err := file.Seek(0, io.SeekStart); err != nil {
			funlock(file)
			_ = file.Close()

			return nil, fmt.Errorf("rewind stale lock: %w", err)
		}
	}

	meta := newLockMetadata(dataPath)

	if err := writeLockMetadata(file, meta); err != nil {
		funlock(file)
		_ = file.Close()

		if created {
			_ = os.Remove(lockPath)
		}

		return nil, err
	}

	return &FileLock{
		lockPath: lockPath,
		dataPath: dataPath,
		file:     file,
		meta:     meta,
	}, nil
}

// openSidecar opens the lock sidecar, creating it exclusively when absent.
// The created flag reports whether this call created the file.
func openSidecar(lockPath string) (f *os.File, created bool, err error) {
	f, err = os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err == nil {
		return f, true, nil
	}

	if !errors.Is(err, os.ErrExist) {
		return nil, false, fmt.Errorf("create lock file: %w", err)
	}

	f, err = os.OpenFile(lockPath, os.O_RDWR, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Holder released between our attempts; count as contention so
			// the caller retries immediately.
			return nil, false, fmt.Errorf("%w: lock file vanished", ErrLockContention)
		}

		return nil, false, fmt.Errorf("open lock file: %w", err)
	}

	return f, false, nil
}

// sidecarOwnerLive decides whether the sidecar's recorded owner still holds
// the lock. Parse failures and dead or recycled PIDs mean stale.
func sidecarOwnerLive(file *os.File) (bool, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return false, fmt.Errorf("rewind lock file: %w", err)
	}

	raw, err := io.ReadAll(file)
	if err != nil {
		return false, fmt.Errorf("read lock file: %w", err)
	}

	meta, ok := parseLockMetadata(raw)
	if !ok {
		return false, nil
	}

	if meta.Pid <= 0 || !pidAlive(meta.Pid) {
		return false, nil
	}

	startTime, startErr := processStartTime(meta.Pid)
	if startErr != nil {
		// Start time unavailable: fall back to record age.
		age := time.Since(meta.TimestampUtc)

		return age < staleLockAge, nil
	}

	diff := startTime.Sub(meta.PidStartTimeUtc)
	if diff < 0 {
		diff = -diff
	}

	return diff <= startTimeTolerance, nil
}

// parseLockMetadata decodes a sidecar record, tolerating comments, trailing
// commas and unknown fields. Returns ok=false for anything unusable.
func parseLockMetadata(raw []byte) (lockMetadata, bool) {
	std, err := hujson.Standardize(raw)
	if err != nil {
		return lockMetadata{}, false
	}

	var meta lockMetadata

	if err := json.Unmarshal(std, &meta); err != nil {
		return lockMetadata{}, false
	}

	return meta, true
}

func newLockMetadata(dataPath string) lockMetadata {
	hostname, _ := os.Hostname()

	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("LOGNAME")
	}

	now := time.Now().UTC()

	start, err := processStartTime(os.Getpid())
	if err != nil {
		start = now
	}

	return lockMetadata{
		Pid:             os.Getpid(),
		PidStartTimeUtc: start.UTC(),
		TimestampUtc:    now,
		Hostname:        hostname,
		User:            user,
		LockId:          uuid.NewString(),
		DataFilePath:    dataPath,
	}
}

func writeLockMetadata(file *os.File, meta lockMetadata) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode lock metadata: %w", err)
	}

	if _, err := file.Write(payload); err != nil {
		return fmt.Errorf("write lock metadata: %w", err)
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync lock metadata: %w", err)
	}

	return nil
}

// Release relinquishes the writer right and removes the sidecar on a
// best-effort basis. Release is idempotent.
func (l *FileLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return nil
	}

	l.released = true

	// Unlink before dropping the flock so a waiter cannot observe our stale
	// record on the still-locked inode.
	_ = os.Remove(l.lockPath)

	funlock(l.file)

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}

	return nil
}
