package pool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

type PanicHandler func(any)

type Options struct {
	MaxWorkers   int           // concurrency cap, required, > 0
	Queue        int           // queue capacity; 0 means tasks must spawn a worker or block/drop
	IdleTimeout  time.Duration // idle worker reclaim timeout
	NonBlocking  bool          // true: Submit returns false when the queue is full; false: may block
	EnqueueWait  time.Duration // SubmitCtx only: max wait on a full queue before giving up (0 = no wait)
	PanicHandler PanicHandler
}

type Option func(*Options)

func WithMaxWorkers(n int) Option            { return func(o *Options) { o.MaxWorkers = n } }
func WithQueue(n int) Option                 { return func(o *Options) { o.Queue = n } }
func WithIdleTimeout(d time.Duration) Option { return func(o *Options) { o.IdleTimeout = d } }
func WithNonBlocking() Option                { return func(o *Options) { o.NonBlocking = true } }
func WithEnqueueWait(d time.Duration) Option { return func(o *Options) { o.EnqueueWait = d } }
func WithPanicHandler(h PanicHandler) Option { return func(o *Options) { o.PanicHandler = h } }

type Stats struct {
	Workers   int
	QueueLen  int
	Submitted uint64
	Dropped   uint64
}

// Pool is a bounded, auto-scaling set of goroutines that runs submitted
// tasks off a proxy session's critical path (hook dispatch).
type Pool interface {
	Submit(task func()) bool
	SubmitCtx(ctx context.Context, task func()) error
	TrySubmit(task func()) bool
	Resize(maxWorkers int)
	Close()
	Stats() Stats
}

type workerPool struct {
	opts Options

	tasks  chan func()
	stopCh chan struct{}
	wg     sync.WaitGroup

	curWorkers int32
	submitted  uint64
	dropped    uint64
	closed     atomic.Bool
}

func New(opts ...Option) Pool {
	o := Options{
		MaxWorkers:  runtime.GOMAXPROCS(0) * 4,
		Queue:       1024,
		IdleTimeout: 30 * time.Second,
		NonBlocking: true,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = 1
	}
	if o.Queue < 0 {
		o.Queue = 0
	}

	return &workerPool{
		opts:   o,
		tasks:  make(chan func(), o.Queue),
		stopCh: make(chan struct{}),
	}
}

func (p *workerPool) Stats() Stats {
	return Stats{
		Workers:   int(atomic.LoadInt32(&p.curWorkers)),
		QueueLen:  len(p.tasks),
		Submitted: atomic.LoadUint64(&p.submitted),
		Dropped:   atomic.LoadUint64(&p.dropped),
	}
}

func (p *workerPool) TrySubmit(task func()) bool {
	return p.submitInternal(task, false, 0)
}

func (p *workerPool) Submit(task func()) bool {
	return p.submitInternal(task, !p.opts.NonBlocking, 0)
}

func (p *workerPool) SubmitCtx(ctx context.Context, task func()) error {
	if p.closed.Load() {
		return errors.New("pool closed")
	}
	p.maybeSpawnWorker()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.tasks <- p.wrap(task):
		atomic.AddUint64(&p.submitted, 1)
		return nil
	default:
		if p.opts.EnqueueWait > 0 {
			timer := time.NewTimer(p.opts.EnqueueWait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				atomic.AddUint64(&p.dropped, 1)
				return errors.New("enqueue timeout")
			case p.tasks <- p.wrap(task):
				atomic.AddUint64(&p.submitted, 1)
				return nil
			}
		}
		if !p.opts.NonBlocking {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.stopCh:
				return errors.New("pool closed")
			case p.tasks <- p.wrap(task):
				atomic.AddUint64(&p.submitted, 1)
				return nil
			}
		}
		atomic.AddUint64(&p.dropped, 1)
		return errors.New("queue full")
	}
}

func (p *workerPool) submitInternal(task func(), block bool, wait time.Duration) bool {
	if p.closed.Load() {
		return false
	}
	p.maybeSpawnWorker()

	select {
	case p.tasks <- p.wrap(task):
		atomic.AddUint64(&p.submitted, 1)
		return true
	default:
	}

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
			atomic.AddUint64(&p.dropped, 1)
			return false
		case p.tasks <- p.wrap(task):
			atomic.AddUint64(&p.submitted, 1)
			return true
		}
	}

	if block && !p.opts.NonBlocking {
		select {
		case <-p.stopCh:
			return false
		case p.tasks <- p.wrap(task):
			atomic.AddUint64(&p.submitted, 1)
			return true
		}
	}

	atomic.AddUint64(&p.dropped, 1)
	return false
}

func (p *workerPool) maybeSpawnWorker() {
	for {
		cw := atomic.LoadInt32(&p.curWorkers)
		if int(cw) >= p.opts.MaxWorkers {
			return
		}
		if len(p.tasks) == 0 && cw > 0 {
			return
		}
		if atomic.CompareAndSwapInt32(&p.curWorkers, cw, cw+1) {
			p.spawn()
			return
		}
	}
}

func (p *workerPool) spawn() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer atomic.AddInt32(&p.curWorkers, -1)

		idle := time.NewTimer(p.opts.IdleTimeout)
		defer idle.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case task := <-p.tasks:
				if !idle.Stop() {
					<-idle.C
				}
				task()
				idle.Reset(p.opts.IdleTimeout)
			case <-idle.C:
				return
			}
		}
	}()
}

func (p *workerPool) wrap(task func()) func() {
	if p.opts.PanicHandler == nil {
		return task
	}
	return func() {
		defer func() {
			if r := recover(); r != nil {
				p.opts.PanicHandler(r)
			}
		}()
		task()
	}
}

func (p *workerPool) Resize(maxWorkers int) {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	p.opts.MaxWorkers = maxWorkers
}

func (p *workerPool) Close() {
	if p.closed.CompareAndSwap(false, true) {
		close(p.stopCh)
		p.wg.Wait()
	}
}
