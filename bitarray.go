package mmarr

import (
	"fmt"
	"math"
	"math/bits"
	"path/filepath"
	"sync/atomic"
	"unsafe"
)

// BitArray is a persistent boolean array packed 32 bits per word.
//
// The backing engine stores uint32 words; the overlay header reserves eight
// bytes for the logical bit length, which is independent of (and at most 32
// times) the word count. Bits at positions >= Length within the last word
// are kept zero so bulk operators and cardinality never see leftovers.
type BitArray struct {
	_  [0]func() // prevent external construction
	st *store
}

// OpenBitArray opens or creates the bit-array file at path.
//
// Possible errors: as [OpenArray].
func OpenBitArray(path string, opts Options) (*BitArray, error) {
	st, err := openStore(path, Bit, bitLengthReserved, opts)
	if err != nil {
		return nil, err
	}

	b := &BitArray{st: st}

	if length := b.Length(); length < 0 || length > st.count()*32 {
		_ = st.close()

		return nil, fmt.Errorf("bit length %d exceeds %d words: %w", length, st.count(), ErrCorrupt)
	}

	return b, nil
}

// words views the element region as uint32 words. Recomputed per use
// because remaps move the mapping.
func (b *BitArray) words() []uint32 {
	return unsafe.Slice((*uint32)(unsafe.Pointer(&b.st.data[b.st.headerLen])), b.st.capacity)
}

func (b *BitArray) lengthPtr() *int64 {
	return (*int64)(unsafe.Pointer(&b.st.data[offBitLength]))
}

// Length returns the logical number of bits. Lock-free; 0 after Close.
func (b *BitArray) Length() int64 {
	if b.st.closed || b.st.data == nil {
		return 0
	}

	return atomic.LoadInt64(b.lengthPtr())
}

func (b *BitArray) setLength(n int64) {
	atomic.StoreInt64(b.lengthPtr(), n)
}

// WordCount returns the number of backing uint32 words in use.
func (b *BitArray) WordCount() int64 { return b.st.count() }

// visibleLength bounds the logical length by the words this handle has
// mapped; see the count clamp in the engine for why readers need this.
func (b *BitArray) visibleLength() int64 {
	n := b.Length()
	if maxBits := b.st.visible() * 32; n > maxBits {
		return maxBits
	}

	return n
}

// Capacity returns the number of word slots in the current mapping.
func (b *BitArray) Capacity() int64 { return b.st.capacity }

// Path returns the backing file path.
func (b *BitArray) Path() string { return b.st.path }

// extend grows the logical length to nBits, zero-filling any new words.
// Capacity slack can hold stale bytes from earlier truncations, so new
// words are cleared explicitly before the word count is published.
func (b *BitArray) extend(nBits int64) error {
	neededWords := (nBits + 31) / 32

	current := b.st.count()
	if neededWords > current {
		if err := b.st.ensureCapacity(neededWords); err != nil {
			return err
		}

		w := b.words()
		for j := current; j < neededWords; j++ {
			w[j] = 0
		}

		b.st.setCount(neededWords)
	}

	b.setLength(nBits)

	return nil
}

// Get returns bit i. On a writer handle an index at or above the length
// extends the array first (the new bits read false); on a reader it fails
// like [Array.Get].
func (b *BitArray) Get(i int64) (bool, error) {
	if err := b.st.readable(); err != nil {
		return false, err
	}

	if i < 0 {
		return false, fmt.Errorf("bit %d: %w", i, ErrOutOfRange)
	}

	if b.st.mode == ReadOnly {
		if i >= b.visibleLength() {
			return false, fmt.Errorf("bit %d of %d: %w", i, b.visibleLength(), ErrTruncated)
		}
	} else if i >= b.Length() {
		if err := b.extend(i + 1); err != nil {
			return false, err
		}

		return false, nil
	}

	return b.words()[i>>5]&(1<<(uint(i)&31)) != 0, nil
}

// Set assigns bit i. On a writer handle an index at or above the length
// extends the array to i+1 first.
func (b *BitArray) Set(i int64, v bool) error {
	if err := b.st.writable(); err != nil {
		return err
	}

	if i < 0 {
		return fmt.Errorf("bit %d: %w", i, ErrOutOfRange)
	}

	if i >= b.Length() {
		if err := b.extend(i + 1); err != nil {
			return err
		}
	}

	w := b.words()
	if v {
		w[i>>5] |= 1 << (uint(i) & 31)
	} else {
		w[i>>5] &^= 1 << (uint(i) & 31)
	}

	return nil
}

// Append extends the array by one bit.
func (b *BitArray) Append(v bool) error {
	return b.Set(b.Length(), v)
}

// TruncateTail keeps the first n bits. The logical length drops before word
// capacity is reclaimed, and the trailing bits of the surviving last word
// are cleared so later reads never return leftovers.
func (b *BitArray) TruncateTail(n int64) error {
	if err := b.st.writable(); err != nil {
		return err
	}

	length := b.Length()
	if n < 0 || n > length {
		return fmt.Errorf("truncate to %d of %d bits: %w", n, length, ErrOutOfRange)
	}

	newWords := (n + 31) / 32

	if b.st.noRemap && pageAlign(b.st.headerLen+newWords*4) < b.st.fileLen {
		return fmt.Errorf("shrink to %d bits: %w", n, ErrResetDisallowed)
	}

	b.setLength(n)
	b.maskTail(n, newWords)

	return b.st.truncateTail(newWords)
}

// maskTail zeroes bits at positions >= n within word newWords-1.
func (b *BitArray) maskTail(n, newWords int64) {
	if newWords == 0 || n%32 == 0 {
		return
	}

	b.words()[newWords-1] &= (1 << (uint(n) % 32)) - 1
}

// TruncateHead keeps the last n bits, shifting them to the front. Word
// capacity is unchanged. progress may be nil.
func (b *BitArray) TruncateHead(n int64, progress Progress) error {
	if err := b.st.writable(); err != nil {
		return err
	}

	length := b.Length()
	if n < 0 || n > length {
		return fmt.Errorf("keep %d of %d bits: %w", n, length, ErrOutOfRange)
	}

	label := filepath.Base(b.st.path)

	drop := length - n
	if drop == 0 {
		progress.report(n, n, label)

		return nil
	}

	w := b.words()

	if drop%32 == 0 {
		// Word-aligned drop: a forward word move.
		firstWord := drop / 32
		copy(w[:(n+31)/32], w[firstWord:(length+31)/32])
		progress.report(n, n, label)
	} else {
		step := progressStep(n)

		for i := int64(0); i < n; i++ {
			src := drop + i
			bit := w[src>>5]&(1<<(uint(src)&31)) != 0

			if bit {
				w[i>>5] |= 1 << (uint(i) & 31)
			} else {
				w[i>>5] &^= 1 << (uint(i) & 31)
			}

			if (i+1)%step == 0 || i+1 == n {
				progress.report(i+1, n, label)
			}
		}
	}

	newWords := (n + 31) / 32

	b.setLength(n)
	b.maskTail(n, newWords)
	b.st.setCount(newWords)

	return nil
}

// And intersects with other, word-wise over this array's word count. other
// must cover at least as many words.
func (b *BitArray) And(other *BitArray) error {
	return b.combine(other, func(x, y uint32) uint32 { return x & y })
}

// Or unions with other, word-wise over this array's word count.
func (b *BitArray) Or(other *BitArray) error {
	return b.combine(other, func(x, y uint32) uint32 { return x | y })
}

// Xor symmetric-differences with other, word-wise over this array's word
// count.
func (b *BitArray) Xor(other *BitArray) error {
	return b.combine(other, func(x, y uint32) uint32 { return x ^ y })
}

func (b *BitArray) combine(other *BitArray, op func(x, y uint32) uint32) error {
	if err := b.st.writable(); err != nil {
		return err
	}

	if err := other.st.readable(); err != nil {
		return err
	}

	n := b.st.count()
	if other.st.count() < n {
		return fmt.Errorf("operand has %d of %d words: %w", other.st.count(), n, ErrOutOfRange)
	}

	w, ow := b.words(), other.words()
	for j := int64(0); j < n; j++ {
		w[j] = op(w[j], ow[j])
	}

	b.maskTail(b.Length(), (b.Length()+31)/32)

	return nil
}

// Not inverts every bit in place.
func (b *BitArray) Not() error {
	if err := b.st.writable(); err != nil {
		return err
	}

	w := b.words()
	for j := int64(0); j < b.st.count(); j++ {
		w[j] = ^w[j]
	}

	b.maskTail(b.Length(), (b.Length()+31)/32)

	return nil
}

// Cardinality returns the number of set bits.
func (b *BitArray) Cardinality() (int64, error) {
	if err := b.st.readable(); err != nil {
		return 0, err
	}

	var total int64

	w := b.words()
	for j := int64(0); j < (b.visibleLength()+31)/32; j++ {
		total += int64(bits.OnesCount32(w[j]))
	}

	return total, nil
}

// Span copies the bits [start, start+length) into a fresh []bool. Zero-copy
// is not possible for packed bits.
func (b *BitArray) Span(start, length int64) ([]bool, error) {
	if err := b.st.readable(); err != nil {
		return nil, err
	}

	if length > math.MaxInt32 {
		return nil, fmt.Errorf("span length %d: %w", length, ErrLength32)
	}

	total := b.visibleLength()
	if start < 0 || length < 0 || start+length > total {
		return nil, fmt.Errorf("span [%d, %d) of %d bits: %w", start, start+length, total, ErrOutOfRange)
	}

	w := b.words()
	out := make([]bool, length)

	for j := int64(0); j < length; j++ {
		i := start + j
		out[j] = w[i>>5]&(1<<(uint(i)&31)) != 0
	}

	return out, nil
}

// TrimExcess shrinks word capacity when utilisation is below 90%.
func (b *BitArray) TrimExcess() error {
	return b.st.trimExcess()
}

// DisallowRemap latches the mapping in place; see [ErrResetDisallowed].
func (b *BitArray) DisallowRemap() {
	b.st.disallowRemap()
}

// Close releases all resources. Idempotent.
func (b *BitArray) Close() error {
	return b.st.close()
}
