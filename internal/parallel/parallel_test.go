package parallel

import (
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRange_CoversEveryIndexOnce(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 4, MinChunkSize: 10}
	const n = 1001
	var hits [n]int32
	var calls int32

	Range(n, cfg, func(lo, hi int) {
		atomic.AddInt32(&calls, 1)
		for i := lo; i < hi; i++ {
			atomic.AddInt32(&hits[i], 1)
		}
	})

	for i, h := range hits {
		assert.Equal(t, int32(1), h, "index %d", i)
	}
	assert.Equal(t, int32(4), calls)
}

func TestRange_SmallWorkIsSequential(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 8, MinChunkSize: 100}
	var calls int
	Range(150, cfg, func(lo, hi int) {
		calls++
		assert.Equal(t, 0, lo)
		assert.Equal(t, 150, hi)
	})
	assert.Equal(t, 1, calls)

	Range(0, cfg, func(int, int) { t.Fatal("called for empty range") })
}

func TestRange_Disabled(t *testing.T) {
	var calls int
	Range(1<<16, Config{NumWorkers: 8, MinChunkSize: 1}, func(int, int) { calls++ })
	assert.Equal(t, 1, calls)
}

func TestMap(t *testing.T) {
	data := make([]float64, 10000)
	for i := range data {
		data[i] = float64(i)
	}
	Map(data, Config{Enabled: true, NumWorkers: 3, MinChunkSize: 64}, math.Sqrt)
	assert.InDelta(t, 3.0, data[9], 1e-12)
	assert.InDelta(t, 99.0, data[9801], 1e-12)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Positive(t, cfg.NumWorkers)
	assert.Positive(t, cfg.MinChunkSize)
}
