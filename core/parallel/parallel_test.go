package parallel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParallelizeN(t *testing.T) {
	tests := []struct {
		name    string
		items   int
		workers int
	}{
		{"single worker", 10, 1},
		{"more workers than items", 3, 8},
		{"uneven chunks", 17, 4},
		{"default workers", 100, 0},
		{"no items", 0, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mu sync.Mutex
			seen := make([]int, tt.items)
			ParallelizeN(tt.items, tt.workers, func(start, end int) {
				for i := start; i < end; i++ {
					mu.Lock()
					seen[i]++
					mu.Unlock()
				}
			})
			for i, n := range seen {
				assert.Equal(t, 1, n, "item %d visited %d times", i, n)
			}
		})
	}
}

func TestParallelizeNContiguousRanges(t *testing.T) {
	var (
		mu     sync.Mutex
		ranges [][2]int
	)
	ParallelizeN(10, 3, func(start, end int) {
		mu.Lock()
		ranges = append(ranges, [2]int{start, end})
		mu.Unlock()
	})

	assert.ElementsMatch(t, [][2]int{{0, 4}, {4, 8}, {8, 10}}, ranges)
}
