// Package performance pools the scratch matrices that inspection workers
// overwrite while evaluating a fitted forest.
package performance

import (
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"
)

// MatrixPool hands out dense copies of a design and takes them back when a
// worker is done. Backing arrays are reused when large enough.
type MatrixPool struct {
	pool     sync.Pool
	created  atomic.Int64
	recycled atomic.Int64
	inUse    atomic.Int64
	peak     atomic.Int64
}

// PoolStats tracks pool usage.
type PoolStats struct {
	Created  int64
	Recycled int64
	InUse    int64
	Peak     int64
}

// NewMatrixPool creates an empty pool.
func NewMatrixPool() *MatrixPool {
	mp := &MatrixPool{}
	mp.pool.New = func() any {
		mp.created.Add(1)
		return &mat.Dense{}
	}
	return mp
}

// Shared は inspection パッケージ全体で共有するプール
var Shared = NewMatrixPool()

// Copy returns a pooled dense copy of src. Return it with Put.
func (mp *MatrixPool) Copy(src mat.Matrix) *mat.Dense {
	m := mp.pool.Get().(*mat.Dense)
	r, c := src.Dims()
	m.ReuseAs(r, c)
	m.Copy(src)

	cur := mp.inUse.Add(1)
	for {
		p := mp.peak.Load()
		if cur <= p || mp.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	return m
}

// Put returns m to the pool. m must not be used afterwards.
func (mp *MatrixPool) Put(m *mat.Dense) {
	if m == nil || m.IsEmpty() {
		return
	}
	m.Reset()
	mp.inUse.Add(-1)
	mp.recycled.Add(1)
	mp.pool.Put(m)
}

// Stats returns current pool statistics.
func (mp *MatrixPool) Stats() PoolStats {
	return PoolStats{
		Created:  mp.created.Load(),
		Recycled: mp.recycled.Load(),
		InUse:    mp.inUse.Load(),
		Peak:     mp.peak.Load(),
	}
}
