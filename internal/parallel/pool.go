// Package parallel executes data-parallel kernel lanes on a pool of goroutines.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// LanePool is a pool of goroutines that runs the lanes of a dispatch.
//
// Each worker owns a queue. Workers steal from other queues when their own
// is empty, which keeps the pool busy when some chunks are slower than
// others (lanes that hit the append path do more work than rejected ones).
//
// Thread safety: LanePool is safe for concurrent use.
type LanePool struct {
	workers int

	// queues holds per-worker work queues.
	queues []chan func()

	done chan struct{}
	wg   sync.WaitGroup

	running atomic.Bool

	// chunksPerWorker controls how finely Range splits its interval.
	chunksPerWorker int
}

// NewLanePool creates a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewLanePool(workers int) *LanePool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	queueSize := workers * 4
	if queueSize < 8 {
		queueSize = 8
	}

	p := &LanePool{
		workers:         workers,
		queues:          make([]chan func(), workers),
		done:            make(chan struct{}),
		chunksPerWorker: 4,
	}
	for i := range workers {
		p.queues[i] = make(chan func(), queueSize)
	}

	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}

	return p
}

func (p *LanePool) worker(id int) {
	defer p.wg.Done()

	own := p.queues[id]

	for {
		select {
		case <-p.done:
			p.drain(own)
			return

		case work := <-own:
			if work != nil {
				work()
			}

		default:
			if stolen := p.steal(id); stolen != nil {
				stolen()
				continue
			}
			select {
			case <-p.done:
				p.drain(own)
				return
			case work := <-own:
				if work != nil {
					work()
				}
			}
		}
	}
}

func (p *LanePool) drain(queue chan func()) {
	for {
		select {
		case work := <-queue:
			if work != nil {
				work()
			}
		default:
			return
		}
	}
}

// steal takes one work item from another worker's queue, or returns nil.
func (p *LanePool) steal(id int) func() {
	for i := range p.workers {
		if i == id {
			continue
		}
		select {
		case work := <-p.queues[i]:
			return work
		default:
		}
	}
	return nil
}

// ExecuteAll distributes work across workers and waits for all of it.
// On a closed pool the work runs on the calling goroutine.
func (p *LanePool) ExecuteAll(work []func()) {
	if len(work) == 0 {
		return
	}
	if !p.running.Load() {
		for _, fn := range work {
			fn()
		}
		return
	}

	var pending sync.WaitGroup
	pending.Add(len(work))

	for i, fn := range work {
		item := func() {
			defer pending.Done()
			fn()
		}
		select {
		case p.queues[i%p.workers] <- item:
		case <-p.done:
			item()
		}
	}

	pending.Wait()
}

// Range calls fn over [0, n) split into contiguous chunks and waits for all
// chunks. fn receives the half-open interval [lo, hi).
func (p *LanePool) Range(n int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}

	chunks := p.workers * p.chunksPerWorker
	if chunks > n {
		chunks = n
	}
	if chunks <= 1 {
		fn(0, n)
		return
	}

	size := (n + chunks - 1) / chunks
	work := make([]func(), 0, chunks)
	for lo := 0; lo < n; lo += size {
		hi := min(lo+size, n)
		work = append(work, func() { fn(lo, hi) })
	}
	p.ExecuteAll(work)
}

// Close stops the pool after draining queued work.
// Close is safe to call multiple times.
func (p *LanePool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *LanePool) Workers() int {
	return p.workers
}

// IsRunning reports whether the pool still accepts work.
func (p *LanePool) IsRunning() bool {
	return p.running.Load()
}
