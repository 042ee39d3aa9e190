package mmarr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
	"unsafe"
)

// Mode selects reader or writer access to a store file.
type Mode int

const (
	// ReadOnly opens an existing file with shared read access and no lock.
	ReadOnly Mode = iota

	// ReadWrite creates the file if needed and acquires the exclusive
	// writer lock before opening.
	ReadWrite
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "ReadOnly"
	case ReadWrite:
		return "ReadWrite"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Options configures opening a store file.
type Options struct {
	// Mode selects reader or writer access. The zero value is ReadOnly.
	Mode Mode

	// InitialCapacity sizes a newly created file, in elements. Ignored when
	// the file already has contents. The file is always at least one page.
	InitialCapacity int64

	// Lock configures writer-lock acquisition. Ignored for readers.
	Lock LockOptions
}

// growChunkElems caps the doubling growth policy: capacity doubles until the
// increment reaches 2^30 elements, then grows linearly by that amount.
const growChunkElems = int64(1) << 30

// store owns one mapped file: descriptor, mapping, header geometry, element
// width, capacity and (for writers) the exclusive lock. It is the engine
// beneath every public array flavour.
//
// A store is single-threaded from the caller's perspective. The only
// cross-process synchronization is the atomic 8-byte count slot in the
// mapped header: the writer stores it after element bytes (publication) and
// before reclaiming capacity (truncation), and readers load it atomically.
type store struct {
	path      string
	mode      Mode
	file      *os.File
	lock      *FileLock
	data      []byte
	fileLen   int64
	headerLen int64
	width     int64
	dt        DataType
	capacity  int64
	noRemap   bool
	closed    bool
}

// openStore opens or creates the store file at path.
//
// dt is the required element encoding; passing AnyStruct on a read-only open
// accepts whatever the header records (the caller inspects s.dt). reserved
// is the overlay header reservation in bytes (0 or 8, multiple of 8).
func openStore(path string, dt DataType, reserved int64, opts Options) (*store, error) {
	if !is64Bit {
		return nil, errors.New("mmarr requires a 64-bit process")
	}

	if !isLittleEndian {
		return nil, errors.New("mmarr requires a little-endian CPU")
	}

	if reserved < 0 || reserved%8 != 0 {
		return nil, fmt.Errorf("overlay reservation %d is not a non-negative multiple of 8", reserved)
	}

	s := &store{
		path:      path,
		mode:      opts.Mode,
		headerLen: baseHeaderSize + reserved,
		dt:        dt,
		width:     dt.Width(),
	}

	switch opts.Mode {
	case ReadOnly:
		if err := s.openReader(); err != nil {
			return nil, err
		}
	case ReadWrite:
		if err := s.openWriter(opts); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown open mode %d", opts.Mode)
	}

	registerHandle(s, HandleInfo{Path: path, Mode: opts.Mode, Type: s.dt, OpenedAt: time.Now()})

	return s, nil
}

func (s *store) openReader() error {
	file, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()

		return fmt.Errorf("stat store: %w", err)
	}

	s.file = file
	s.fileLen = info.Size()

	if s.fileLen < s.headerLen {
		_ = file.Close()

		return fmt.Errorf("file length %d below header length %d: %w", s.fileLen, s.headerLen, ErrCorrupt)
	}

	data, err := mmapFile(file, s.fileLen, false)
	if err != nil {
		_ = file.Close()

		return err
	}

	s.data = data

	if err := s.validateHeader(); err != nil {
		_ = munmapFile(s.data)
		_ = file.Close()

		return err
	}

	return nil
}

func (s *store) openWriter(opts Options) error {
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create store directory: %w", err)
		}
	}

	_, statErr := os.Stat(s.path)
	existedBefore := statErr == nil

	lock, err := AcquireLock(s.path, opts.Lock)
	if err != nil {
		return err
	}

	fail := func(err error) error {
		if s.data != nil {
			_ = munmapFile(s.data)
			s.data = nil
		}

		if s.file != nil {
			_ = s.file.Close()
			s.file = nil
		}

		_ = lock.Release()

		if !existedBefore {
			_ = os.Remove(s.path)
		}

		return err
	}

	file, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return fail(fmt.Errorf("open store: %w", err))
	}

	s.file = file

	info, err := file.Stat()
	if err != nil {
		return fail(fmt.Errorf("stat store: %w", err))
	}

	s.fileLen = info.Size()

	if s.fileLen == 0 {
		if s.dt == AnyStruct || s.width == 0 {
			return fail(fmt.Errorf("cannot create a store without a concrete data type (got %v)", s.dt))
		}

		initialCapacity := opts.InitialCapacity
		if initialCapacity < 0 {
			initialCapacity = 0
		}

		s.fileLen = pageAlign(s.headerLen + initialCapacity*s.width)

		if err := file.Truncate(s.fileLen); err != nil {
			return fail(fmt.Errorf("size new store: %w", err))
		}

		data, err := mmapFile(file, s.fileLen, true)
		if err != nil {
			return fail(err)
		}

		s.data = data

		putHeader(s.data, s.dt, 0)
		_ = msyncFile(s.data)
	} else {
		if s.fileLen < s.headerLen {
			return fail(fmt.Errorf("file length %d below header length %d: %w", s.fileLen, s.headerLen, ErrCorrupt))
		}

		data, err := mmapFile(file, s.fileLen, true)
		if err != nil {
			return fail(err)
		}

		s.data = data

		if err := s.validateHeader(); err != nil {
			return fail(err)
		}
	}

	s.lock = lock
	s.capacity = (s.fileLen - s.headerLen) / s.width

	return nil
}

// validateHeader checks the mapped header against the requested encoding and
// derives capacity. Called with the mapping installed.
func (s *store) validateHeader() error {
	if v := headerVersion(s.data); v != formatVersion {
		return fmt.Errorf("unsupported format version %d: %w", v, ErrCorrupt)
	}

	stored := headerDataType(s.data)
	if !stored.valid() || stored == AnyStruct {
		return fmt.Errorf("unknown data type code %d: %w", int32(stored), ErrCorrupt)
	}

	if s.dt == AnyStruct {
		s.dt = stored
		s.width = stored.Width()
	} else if stored != s.dt {
		return fmt.Errorf("data type is %v, want %v: %w", stored, s.dt, ErrCorrupt)
	}

	s.capacity = (s.fileLen - s.headerLen) / s.width

	count := int64(binary.LittleEndian.Uint64(s.data[offCount:]))
	if count < 0 || count > s.capacity {
		return fmt.Errorf("count %d exceeds capacity %d: %w", count, s.capacity, ErrCorrupt)
	}

	return nil
}

// count returns the published element count. Lock-free; returns 0 on a
// disposed handle.
func (s *store) count() int64 {
	if s.closed || s.data == nil {
		return 0
	}

	return atomic.LoadInt64(s.countPtr())
}

// setCount publishes a new element count with an atomic store. This is the
// release point readers rely on: element bytes are always written before the
// count that makes them visible, and the count always drops before capacity
// holding old elements is reclaimed.
func (s *store) setCount(n int64) {
	atomic.StoreInt64(s.countPtr(), n)
}

func (s *store) countPtr() *int64 {
	// The mapping is page-aligned, so offset 8 is 8-byte aligned as the
	// atomic ops require.
	return (*int64)(unsafe.Pointer(&s.data[offCount]))
}

// visible bounds the published count by this handle's own capacity. A
// reader's mapping is fixed at open time, so a writer that grew the file may
// publish counts beyond what this handle has mapped; those elements stay
// invisible until the reader reopens (the accepted freshness bound).
func (s *store) visible() int64 {
	n := s.count()
	if n > s.capacity {
		return s.capacity
	}

	return n
}

func (s *store) readable() error {
	if s.closed {
		return ErrDisposed
	}

	return nil
}

func (s *store) writable() error {
	if s.closed {
		return ErrDisposed
	}

	if s.mode != ReadWrite {
		return ErrReadOnly
	}

	return nil
}

// elem returns the raw bytes of element i. Caller guarantees i is in
// [0, capacity).
func (s *store) elem(i int64) []byte {
	off := s.headerLen + i*s.width

	return s.data[off : off+s.width : off+s.width]
}

// ensureCapacity grows the file so at least needed element slots exist.
func (s *store) ensureCapacity(needed int64) error {
	if needed <= s.capacity {
		return nil
	}

	if s.noRemap {
		return fmt.Errorf("grow to %d elements: %w", needed, ErrResetDisallowed)
	}

	addition := s.capacity
	if addition > growChunkElems {
		addition = growChunkElems
	}

	newCapacity := s.capacity + addition
	if newCapacity < needed {
		newCapacity = needed
	}

	return s.remap(pageAlign(s.headerLen + newCapacity*s.width))
}

// remap drops the current mapping, resizes the file and maps it again. The
// mapping is released before the file changes length; if the new mapping
// cannot be established the handle is disposed with the file at its last
// successful length.
func (s *store) remap(newLen int64) error {
	if err := munmapFile(s.data); err != nil {
		s.data = nil
		s.disposeOnFault()

		return err
	}

	s.data = nil

	if err := s.file.Truncate(newLen); err != nil {
		// Extension failed; restore the old mapping so the handle stays
		// usable at its previous capacity.
		data, mapErr := mmapFile(s.file, s.fileLen, s.mode == ReadWrite)
		if mapErr != nil {
			s.disposeOnFault()

			return fmt.Errorf("resize store: %w", err)
		}

		s.data = data

		return fmt.Errorf("resize store: %w", err)
	}

	data, err := mmapFile(s.file, newLen, s.mode == ReadWrite)
	if err != nil {
		s.disposeOnFault()

		return err
	}

	s.data = data
	s.fileLen = newLen
	s.capacity = (newLen - s.headerLen) / s.width

	return nil
}

// shrinkFile shortens the file to newLen on a best-effort basis: if the
// truncation fails the old length is kept and no error is reported, per the
// truncate-tail contract.
func (s *store) shrinkFile(newLen int64) error {
	if newLen >= s.fileLen {
		return nil
	}

	if err := munmapFile(s.data); err != nil {
		s.data = nil
		s.disposeOnFault()

		return err
	}

	s.data = nil

	target := newLen
	if err := s.file.Truncate(target); err != nil {
		target = s.fileLen
	}

	data, err := mmapFile(s.file, target, s.mode == ReadWrite)
	if err != nil {
		s.disposeOnFault()

		return fmt.Errorf("remap after shrink: %w", err)
	}

	s.data = data
	s.fileLen = target
	s.capacity = (target - s.headerLen) / s.width

	return nil
}

// truncateTail keeps the first n elements. The count drops before capacity
// is reclaimed so concurrent readers never index into freed slots.
func (s *store) truncateTail(n int64) error {
	if err := s.writable(); err != nil {
		return err
	}

	current := s.count()
	if n < 0 || n > current {
		return fmt.Errorf("truncate to %d of %d elements: %w", n, current, ErrOutOfRange)
	}

	newLen := pageAlign(s.headerLen + n*s.width)
	if newLen < s.fileLen && s.noRemap {
		return fmt.Errorf("shrink to %d elements: %w", n, ErrResetDisallowed)
	}

	s.setCount(n)

	return s.shrinkFile(newLen)
}

// truncateHead keeps the last n elements, sliding them to the front with a
// forward byte move. Capacity is unchanged.
func (s *store) truncateHead(n int64, progress Progress, label string) error {
	if err := s.writable(); err != nil {
		return err
	}

	current := s.count()
	if n < 0 || n > current {
		return fmt.Errorf("keep %d of %d elements: %w", n, current, ErrOutOfRange)
	}

	drop := current - n
	if drop == 0 {
		progress.report(n, n, label)

		return nil
	}

	step := progressStep(n)

	for moved := int64(0); moved < n; moved += step {
		chunk := step
		if moved+chunk > n {
			chunk = n - moved
		}

		dstOff := s.headerLen + moved*s.width
		srcOff := s.headerLen + (drop+moved)*s.width
		copy(s.data[dstOff:dstOff+chunk*s.width], s.data[srcOff:srcOff+chunk*s.width])

		progress.report(moved+chunk, n, label)
	}

	s.setCount(n)

	return nil
}

// trimExcess shrinks capacity to the current count when utilisation has
// dropped below 90 percent.
func (s *store) trimExcess() error {
	if err := s.writable(); err != nil {
		return err
	}

	current := s.count()
	if current >= s.capacity-s.capacity/10 {
		return nil
	}

	newLen := pageAlign(s.headerLen + current*s.width)
	if newLen >= s.fileLen {
		return nil
	}

	if s.noRemap {
		return fmt.Errorf("trim to %d elements: %w", current, ErrResetDisallowed)
	}

	return s.shrinkFile(newLen)
}

// disallowRemap latches the mapping in place. One-way: afterwards every
// operation that would grow or shrink the mapping fails with
// [ErrResetDisallowed]. For callers that have lent raw spans to consumers
// that cannot tolerate remapping.
func (s *store) disallowRemap() {
	s.noRemap = true
}

// checkSpan validates a span request against the current count.
func (s *store) checkSpan(start, length int64) error {
	if err := s.readable(); err != nil {
		return err
	}

	if length > math.MaxInt32 {
		return fmt.Errorf("span length %d: %w", length, ErrLength32)
	}

	current := s.visible()
	if start < 0 || length < 0 || start+length > current {
		return fmt.Errorf("span [%d, %d) of %d elements: %w", start, start+length, current, ErrOutOfRange)
	}

	return nil
}

// disposeOnFault tears the handle down after an unrecoverable remap fault.
func (s *store) disposeOnFault() {
	if s.closed {
		return
	}

	s.closed = true

	unregisterHandle(s)

	if s.data != nil {
		_ = munmapFile(s.data)
		s.data = nil
	}

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	if s.lock != nil {
		_ = s.lock.Release()
		s.lock = nil
	}
}

// close releases the mapping, the descriptor and the writer lock, strictly
// in that order. Idempotent.
func (s *store) close() error {
	if s.closed {
		return nil
	}

	s.closed = true

	unregisterHandle(s)

	var firstErr error

	if s.data != nil {
		if s.mode == ReadWrite {
			_ = msyncFile(s.data)
		}

		if err := munmapFile(s.data); err != nil {
			firstErr = err
		}

		s.data = nil
	}

	if s.file != nil {
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close store: %w", err)
		}

		s.file = nil
	}

	if s.lock != nil {
		if err := s.lock.Release(); err != nil && firstErr == nil {
			firstErr = err
		}

		s.lock = nil
	}

	return firstErr
}
