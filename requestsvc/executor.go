package requestsvc

import "sync"

// Executor runs submitted work on a bounded pool of goroutines. The request
// service is handed two of these - an I/O executor for blocking/download
// work and a compute executor for CPU-bound symbolication - and never
// assumes anything about their relative sizing.
type Executor interface {
	Submit(fn func())
}

// WorkerPool is a fixed-size Executor backed by a buffered task queue,
// following the same shape as the cache service's warming worker pool: a
// small number of long-lived goroutines pulling from one channel, rather
// than spawning a goroutine per submission.
type WorkerPool struct {
	name  string
	tasks chan func()
	stop  chan struct{}
	wg    sync.WaitGroup
}

// NewWorkerPool starts workers goroutines draining a queue of depth
// queueDepth. A full queue blocks Submit - callers that need non-blocking
// admission control (§4.F) must gate submissions themselves before calling
// Submit, which is exactly what Service.CreateSymbolicationRequest does via
// the in-flight counter.
func NewWorkerPool(name string, workers, queueDepth int) *WorkerPool {
	p := &WorkerPool{
		name:  name,
		tasks: make(chan func(), queueDepth),
		stop:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *WorkerPool) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case fn := <-p.tasks:
			fn()
		}
	}
}

// Submit enqueues fn for execution by one of the pool's workers.
func (p *WorkerPool) Submit(fn func()) {
	p.tasks <- fn
}

// Shutdown signals the workers to exit and waits for them; a task already
// running finishes first. Submit does not check for shutdown: tasks still
// queued, or submitted afterwards, may never run, and Submit blocks once the
// queue is full.
func (p *WorkerPool) Shutdown() {
	close(p.stop)
	p.wg.Wait()
}
