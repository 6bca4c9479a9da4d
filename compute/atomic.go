package compute

import (
	"math"
	"sync/atomic"
	"unsafe"
)

// AtomicStoreFloat64 stores v to *addr as a single word write. Used where
// overlapping writers are resolved by last-write and only torn stores must
// be prevented.
func AtomicStoreFloat64(addr *float64, v float64) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(addr)), math.Float64bits(v))
}
