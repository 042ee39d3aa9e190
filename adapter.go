package mmarr

import (
	"fmt"
	"os"
	"sync"

	"github.com/natefinch/atomic"
)

// migrationChunk is the element batch size for widening migrations.
const migrationChunk = 4096

// chunkPool recycles the int64 staging buffers used while re-encoding.
var chunkPool = sync.Pool{
	New: func() any {
		buf := make([]int64, migrationChunk)

		return &buf
	},
}

// fit widens the file's encoding so [lo, hi] becomes representable. A no-op
// when the current domain already covers the range; on reader handles the
// caller never gets here (writable is checked first), and when remapping is
// latched off the migration fails with [ErrResetDisallowed].
func (a *Int64Array) fit(lo, hi int64) error {
	if lo >= a.c.min && hi <= a.c.max {
		return nil
	}

	if a.st.noRemap {
		return fmt.Errorf("value outside %v domain with remap disallowed: %w", a.st.dt, ErrResetDisallowed)
	}

	newMin, newMax := a.c.min, a.c.max
	if lo < newMin {
		newMin = lo
	}

	if hi > newMax {
		newMax = hi
	}

	target := SmallestType(newMin, newMax)
	if !target.integerKind() || target == a.st.dt {
		return fmt.Errorf("value range [%d, %d] has no wider encoding than %v: %w", newMin, newMax, a.st.dt, ErrDataTypeOverflow)
	}

	return a.migrate(target)
}

// migrate rewrites the file into the target encoding through a sibling
// ".upgrading" file, then swaps it into place by rename. The rename is the
// only step that is not crash-atomic as a pair with the delete of the old
// file; on POSIX the replace itself is a single atomic rename.
//
// On error the temporary file is removed and the original file remains
// valid; the adapter attempts to reopen it so the handle stays usable.
func (a *Int64Array) migrate(target DataType) error {
	path := a.st.path
	tmpPath := path + ".upgrading"
	label := "upgrade to " + target.String()

	// A previous crash may have left a half-written upgrade file behind.
	_ = os.Remove(tmpPath)
	_ = os.Remove(tmpPath + ".lock")

	srcCount := a.st.count()

	initialCapacity := a.st.capacity
	if initialCapacity < srcCount {
		initialCapacity = srcCount
	}

	tmp, err := openStore(tmpPath, target, 0, Options{
		Mode:            ReadWrite,
		InitialCapacity: initialCapacity,
		Lock:            a.lockOpts,
	})
	if err != nil {
		return fmt.Errorf("create upgrade file: %w", err)
	}

	discardTmp := func() {
		_ = tmp.close()
		_ = os.Remove(tmpPath)
		_ = os.Remove(tmpPath + ".lock")
	}

	targetCodec := codecFor(target)

	bufPtr, _ := chunkPool.Get().(*[]int64)
	buf := *bufPtr

	defer chunkPool.Put(bufPtr)

	a.progress.report(0, srcCount, label)

	for written := int64(0); written < srcCount; {
		chunk := int64(len(buf))
		if written+chunk > srcCount {
			chunk = srcCount - written
		}

		for j := int64(0); j < chunk; j++ {
			buf[j] = a.c.get(a.st.elem(written + j))
		}

		for j := int64(0); j < chunk; j++ {
			targetCodec.put(tmp.elem(written+j), buf[j])
		}

		written += chunk
		tmp.setCount(written)
		a.progress.report(written, srcCount, label)
	}

	// Dispose the source before the swap: its mapping and writer lock must
	// be gone when the path starts pointing at the new file.
	if err := a.st.close(); err != nil {
		discardTmp()
		a.reopenOriginal()

		return fmt.Errorf("close source for upgrade: %w", err)
	}

	if err := tmp.close(); err != nil {
		discardTmp()
		a.reopenOriginal()

		return fmt.Errorf("close upgrade file: %w", err)
	}

	if err := atomic.ReplaceFile(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		a.reopenOriginal()

		return fmt.Errorf("swap upgraded file: %w", err)
	}

	st, err := openStore(path, target, 0, Options{Mode: ReadWrite, Lock: a.lockOpts})
	if err != nil {
		return fmt.Errorf("reopen after upgrade: %w", err)
	}

	a.st = st
	a.c = targetCodec
	a.warned = false

	return nil
}

// reopenOriginal best-effort restores the handle onto the original file
// after a failed migration. A failure leaves the handle disposed.
func (a *Int64Array) reopenOriginal() {
	st, err := openStore(a.st.path, AnyStruct, 0, Options{Mode: ReadWrite, Lock: a.lockOpts})
	if err != nil {
		return
	}

	a.st = st
	a.c = codecFor(st.dt)
}

// UtilisationStatus reports how close the observed values have come to the
// current encoding's domain bounds.
type UtilisationStatus struct {
	// Ratio is max(|observedMax/allowedMax|, |observedMin/allowedMin|),
	// skipping bounds that are zero. Zero when nothing has been written
	// through this handle.
	Ratio float64

	ObservedMin int64
	ObservedMax int64
	AllowedMin  int64
	AllowedMax  int64
	Count       int64
}

// ConfigureUtilisationWarning arms a one-shot callback that fires the first
// time the utilisation ratio reaches threshold. threshold must be in (0, 1].
// Re-configuring re-arms the callback; a migration also re-arms it.
func (a *Int64Array) ConfigureUtilisationWarning(threshold float64, fn func(UtilisationStatus)) error {
	if threshold <= 0 || threshold > 1 {
		return fmt.Errorf("utilisation threshold %v outside (0, 1]", threshold)
	}

	a.warnThreshold = threshold
	a.warnFn = fn
	a.warned = false

	return nil
}

// UtilisationStatus returns the current snapshot.
func (a *Int64Array) UtilisationStatus() UtilisationStatus {
	return UtilisationStatus{
		Ratio:       a.utilisationRatio(),
		ObservedMin: a.observedMin,
		ObservedMax: a.observedMax,
		AllowedMin:  a.c.min,
		AllowedMax:  a.c.max,
		Count:       a.st.count(),
	}
}

func (a *Int64Array) utilisationRatio() float64 {
	if !a.hasObserved {
		return 0
	}

	var ratio float64

	if a.c.max != 0 {
		if r := abs64(float64(a.observedMax) / float64(a.c.max)); r > ratio {
			ratio = r
		}
	}

	if a.c.min != 0 {
		if r := abs64(float64(a.observedMin) / float64(a.c.min)); r > ratio {
			ratio = r
		}
	}

	return ratio
}

// noteObserved folds a write's value range into the cached min/max and fires
// the utilisation warning on its first crossing.
func (a *Int64Array) noteObserved(lo, hi int64) {
	if !a.hasObserved {
		a.hasObserved = true
		a.observedMin = lo
		a.observedMax = hi
	} else {
		if lo < a.observedMin {
			a.observedMin = lo
		}

		if hi > a.observedMax {
			a.observedMax = hi
		}
	}

	if a.warnFn == nil || a.warned {
		return
	}

	if a.utilisationRatio() >= a.warnThreshold {
		a.warned = true
		a.warnFn(a.UtilisationStatus())
	}
}

func abs64(f float64) float64 {
	if f < 0 {
		return -f
	}

	return f
}
