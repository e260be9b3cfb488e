// Package region implements the BPF runtime's memory-region table: a small,
// permission-tagged set of address ranges validated on every program memory
// access.
package region

import (
	"errors"
	"sync"
	"sync/atomic"
)

// Perm is a permission bitmask for a memory region.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExecute
)

// MaxRegions is the hard cap on the number of regions a single table may
// hold. Adds past this limit are rejected.
const MaxRegions = 32

// regionCacheSize bounds the most-recently-matched cache probed before the
// linear scan (between 1 and 8 entries).
const regionCacheSize = 8

var (
	// ErrTableFull is returned by Add when the table already holds MaxRegions.
	ErrTableFull = errors.New("region: table full")
	// ErrInvalidRegion is returned for malformed or overflowing ranges.
	ErrInvalidRegion = errors.New("region: invalid range")
)

// cacheLinePad pads a struct out to 64 bytes so hot counters never share a
// cache line with the immutable region fields.
type cacheLinePad [64]byte

// Region is a half-open address interval [Start, End) with an immutable
// permission mask. Region is cache-line aligned: the immutable fields live
// on their own line, and the hit/miss counters on another.
type Region struct {
	Start uint64
	End   uint64
	Perms Perm
	Label string
	_     cacheLinePad

	hits   uint64
	misses uint64
	_      cacheLinePad
}

func (r *Region) recordHit()  { atomic.AddUint64(&r.hits, 1) }
func (r *Region) recordMiss() { atomic.AddUint64(&r.misses, 1) }

// Hits returns the number of successful validations served by this region.
func (r *Region) Hits() uint64 { return atomic.LoadUint64(&r.hits) }

// Misses returns the number of failed validations attributed to this region
// (address fell inside the range but the requested permission did not).
func (r *Region) Misses() uint64 { return atomic.LoadUint64(&r.misses) }

func (r *Region) contains(addr, end uint64) bool {
	return addr >= r.Start && end <= r.End
}

// Table is a typed, permission-tagged address range table. Readers load the
// region list from an atomic snapshot without locking, but Validate takes
// cacheMu briefly to probe and update the match cache, so reads are not
// lock-free. Writes (Add, Clear) are serialized by mu.
//
// Table holds at most MaxRegions entries. A small most-recently-matched
// cache is probed before the linear scan to keep the common case O(1).
type Table struct {
	mu      sync.Mutex // serializes writers; readers load the atomic snapshot
	snap    atomic.Pointer[[]*Region]
	cacheMu sync.Mutex
	cache   [regionCacheSize]*Region
	cachePos int
}

// New returns an empty region table.
func New() *Table {
	t := &Table{}
	empty := make([]*Region, 0, MaxRegions)
	t.snap.Store(&empty)
	return t
}

// Add inserts a new region. It returns ErrTableFull once MaxRegions have
// been added, and ErrInvalidRegion for an empty, wrapping, or malformed
// range. Permissions are immutable once the region is inserted.
func (t *Table) Add(start, size uint64, perms Perm, label string) error {
	end := start + size
	if end <= start {
		return ErrInvalidRegion
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := *t.snap.Load()
	if len(cur) >= MaxRegions {
		return ErrTableFull
	}
	next := make([]*Region, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, &Region{Start: start, End: end, Perms: perms, Label: label})
	t.snap.Store(&next)

	t.invalidateCache()
	return nil
}

// Clear removes every region and resets the match cache.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	empty := make([]*Region, 0, MaxRegions)
	t.snap.Store(&empty)
	t.invalidateCache()
}

func (t *Table) invalidateCache() {
	t.cacheMu.Lock()
	for i := range t.cache {
		t.cache[i] = nil
	}
	t.cachePos = 0
	t.cacheMu.Unlock()
}

// Validate reports whether [addr, addr+len) lies entirely within some region
// that grants every bit in required. The first matching region wins.
//
// A zero-length access goes through the same end-overflow and containment
// checks as any other length, so it is accepted at every addr in
// [Start, End] of a region granting required, including End itself, where
// a length-1 access is rejected.
func (t *Table) Validate(addr, length uint64, required Perm) bool {
	end := addr + length
	if end < addr {
		return false // overflow
	}

	if r := t.probeCache(addr, end, required); r != nil {
		r.recordHit()
		return true
	}

	regions := *t.snap.Load()
	for _, r := range regions {
		if !r.contains(addr, end) {
			continue
		}
		if r.Perms&required == required {
			r.recordHit()
			t.promote(r)
			return true
		}
		r.recordMiss()
	}
	return false
}

// RegionAt returns the first region containing addr, if any.
func (t *Table) RegionAt(addr uint64) (*Region, bool) {
	regions := *t.snap.Load()
	for _, r := range regions {
		if addr >= r.Start && addr < r.End {
			return r, true
		}
	}
	return nil, false
}

// ValidateBatch validates up to 4 addresses sharing the same length and
// required permission set. It must produce results identical to calling
// Validate individually for each address; no SIMD acceleration is
// attempted here, since Go offers no portable intrinsics for it, but the
// contract is preserved.
func (t *Table) ValidateBatch(addrs []uint64, length uint64, required Perm) []bool {
	if len(addrs) > 4 {
		addrs = addrs[:4]
	}
	out := make([]bool, len(addrs))
	for i, a := range addrs {
		out[i] = t.Validate(a, length, required)
	}
	return out
}

func (t *Table) probeCache(addr, end uint64, required Perm) *Region {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	for _, r := range t.cache {
		if r != nil && r.contains(addr, end) && r.Perms&required == required {
			return r
		}
	}
	return nil
}

func (t *Table) promote(r *Region) {
	t.cacheMu.Lock()
	t.cache[t.cachePos] = r
	t.cachePos = (t.cachePos + 1) % regionCacheSize
	t.cacheMu.Unlock()
}

// Len returns the number of regions currently stored.
func (t *Table) Len() int {
	return len(*t.snap.Load())
}
