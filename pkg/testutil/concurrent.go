package testutil

import (
	"sync"
	"sync/atomic"

	dErrors "custodian/pkg/domain-errors"
)

// ConcurrentResult tallies the outcomes of a concurrent run by domain error code.
type ConcurrentResult struct {
	Successes int32
	Conflicts int32
	NotFounds int32
	Forbidden int32
	Errors    int32
}

func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Conflicts + r.NotFounds + r.Forbidden + r.Errors
}

// RunConcurrent starts n goroutines, releases them at once and waits for all
// of them. fn receives the goroutine index.
func RunConcurrent(n int, fn func(idx int) error) *ConcurrentResult {
	var (
		wg      sync.WaitGroup
		counted [5]atomic.Int32
	)
	start := make(chan struct{})

	for i := range n {
		wg.Go(func() {
			<-start
			counted[outcome(fn(i))].Add(1)
		})
	}
	close(start)
	wg.Wait()

	return &ConcurrentResult{
		Successes: counted[0].Load(),
		Conflicts: counted[1].Load(),
		NotFounds: counted[2].Load(),
		Forbidden: counted[3].Load(),
		Errors:    counted[4].Load(),
	}
}

func outcome(err error) int {
	switch {
	case err == nil:
		return 0
	case dErrors.HasCode(err, dErrors.CodeConflict):
		return 1
	case dErrors.HasCode(err, dErrors.CodeNotFound):
		return 2
	case dErrors.HasCode(err, dErrors.CodeForbidden):
		return 3
	default:
		return 4
	}
}
