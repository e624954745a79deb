// Package parallel splits independent kernel iterations across goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls how work is split between goroutines.
type Config struct {
	Enabled    bool // Whether parallel execution is enabled.
	NumWorkers int  // Upper bound on concurrent goroutines.
	MinRows    int  // Minimum iterations handed to a single goroutine.
}

// DefaultConfig returns defaults based on the CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:    n > 1,
		NumWorkers: n,
		MinRows:    4,
	}
}

// Sequential returns a configuration that runs everything on the caller's goroutine.
func Sequential() Config {
	return Config{NumWorkers: 1, MinRows: 1}
}

// Chunks returns the [lo, hi) ranges For hands to goroutines for n iterations.
// The ranges are contiguous, ordered and cover [0, n) exactly once.
func (c Config) Chunks(n int) [][2]int {
	if n <= 0 {
		return nil
	}
	workers := c.NumWorkers
	if !c.Enabled || workers < 1 {
		workers = 1
	}
	size := max((n+workers-1)/workers, c.MinRows, 1)

	chunks := make([][2]int, 0, (n+size-1)/size)
	for lo := 0; lo < n; lo += size {
		chunks = append(chunks, [2]int{lo, min(lo+size, n)})
	}
	return chunks
}

// For calls body once per chunk of [0, n) and waits for all of them.
// Falls back to a single call on the current goroutine when only one chunk results.
func For(n int, cfg Config, body func(lo, hi int)) {
	chunks := cfg.Chunks(n)
	if len(chunks) <= 1 {
		if n > 0 {
			body(0, n)
		}
		return
	}

	var wg sync.WaitGroup
	for _, chunk := range chunks {
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			body(lo, hi)
		}(chunk[0], chunk[1])
	}
	wg.Wait()
}

// Each calls f(i) for every i in [0, n), splitting the range like For.
func Each(n int, cfg Config, f func(i int)) {
	For(n, cfg, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			f(i)
		}
	})
}
