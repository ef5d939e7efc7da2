// Package fastcopy copies tensor-sized byte buffers, sharding large copies
// across goroutines so shared-memory staging does not serialize on one core.
package fastcopy

import "sync"

const (
	// parallelThreshold is the size above which a copy is sharded.
	parallelThreshold = 4 << 20
	numShards         = 8
)

// Copy copies src into dst. len(dst) must be >= len(src); only len(src)
// bytes are written. Small copies go through the builtin; copies above the
// threshold are split into shards copied concurrently.
func Copy(dst, src []byte) {
	if len(src) <= parallelThreshold {
		copy(dst, src)
		return
	}
	sliceSize := len(src) / numShards
	var wg sync.WaitGroup
	for i := 0; i < numShards; i++ {
		begin := i * sliceSize
		end := begin + sliceSize
		if i == numShards-1 {
			end = len(src)
		}
		wg.Add(1)
		go func(begin, end int) {
			defer wg.Done()
			copy(dst[begin:end], src[begin:end])
		}(begin, end)
	}
	wg.Wait()
}
