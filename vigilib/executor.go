package vigilib

import "sync"

// Executor is the work context that decode passes and handler
// notifications run on. It may be genuinely concurrent; the connection
// serializes where ordering demands it.
type Executor interface {
	Add(fn func())
}

// InlineExecutor runs work on the scheduling goroutine. It is the
// default when a Connection is given no Executor.
type InlineExecutor struct{}

func (InlineExecutor) Add(fn func()) { fn() }

// PoolExecutor runs work on a fixed set of worker goroutines. Workers
// are started lazily on first Add and joined by Shutdown.
type PoolExecutor struct {
	Workers int

	start sync.Once
	stop  sync.Once

	queue chan func()
	wg    sync.WaitGroup
}

func (p *PoolExecutor) init() {
	p.start.Do(func() {
		workers := p.Workers
		if workers <= 0 {
			workers = 1
		}

		p.queue = make(chan func(), 128)

		p.wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer p.wg.Done()
				for fn := range p.queue {
					fn()
				}
			}()
		}
	})
}

func (p *PoolExecutor) Add(fn func()) {
	p.init()
	p.queue <- fn
}

func (p *PoolExecutor) Shutdown() {
	p.init()
	p.stop.Do(func() { close(p.queue) })
	p.wg.Wait()
}
