package pow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Range represents the half open interval [Lo, Hi) of candidates scanned by
// a single worker.
type Range struct {
	Lo int64
	Hi int64
}

// Ranges partitions [0, prime) into contiguous, non overlapping ranges, one
// per worker. The last range absorbs the remainder so the whole space is
// covered exactly once.
func Ranges(prime int64, workers int) []Range {
	size := prime / int64(workers)

	ranges := make([]Range, workers)
	for i := range ranges {
		ranges[i] = Range{
			Lo: int64(i) * size,
			Hi: int64(i+1) * size,
		}
	}
	ranges[workers-1].Hi = prime

	return ranges
}

// Search runs a pool of workers over the candidate space looking for a
// candidate whose digest matches the target. Every worker polls a shared
// stop flag on each iteration; the first worker with a hit raises it and the
// rest abandon their scan on their next poll. Cancelling the context raises
// the same flag.
func Search(ctx context.Context, o Oracle, target int64, workers int, ev func(v string, args ...any)) (int64, error) {
	if workers < 1 {
		return Unset, fmt.Errorf("invalid number of workers %d", workers)
	}

	ev("pow: Search: started: target[%d] workers[%d]", target, workers)
	defer ev("pow: Search: completed")

	var stop atomic.Bool
	release := context.AfterFunc(ctx, func() {
		stop.Store(true)
	})
	defer release()

	var (
		mu       sync.Mutex
		found    bool
		solution = Unset
		winner   int
	)

	t := time.Now()

	var wg sync.WaitGroup
	for i, r := range Ranges(o.Prime, workers) {
		wg.Add(1)
		go func() {
			defer wg.Done()

			c, ok := o.scan(r, target, &stop)
			if !ok {
				return
			}
			stop.Store(true)

			mu.Lock()
			defer mu.Unlock()

			if !found {
				found, solution, winner = true, c, i
			}
		}()
	}
	wg.Wait()

	if found {
		ev("pow: Search: SOLVED: worker[%d] solution[%d] duration[%v]", winner, solution, time.Since(t))
		return solution, nil
	}

	if err := ctx.Err(); err != nil {
		ev("pow: Search: CANCELLED")
		return Unset, err
	}

	return Unset, ErrNoSolution
}

// scan walks the range in ascending order until a hit or until stop is set.
func (o Oracle) scan(r Range, target int64, stop *atomic.Bool) (int64, bool) {
	for c := r.Lo; c < r.Hi; c++ {
		if stop.Load() {
			return Unset, false
		}
		if o.Digest(c) == target {
			return c, true
		}
	}
	return Unset, false
}
