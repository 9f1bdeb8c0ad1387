package relay

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Pool runs accounting and persistence jobs off the request path. The
// queue is bounded; when it is full a job is dropped and logged rather
// than blocking a response.
type Pool struct {
	jobs chan func(context.Context)
	log  *logrus.Logger
	wg   sync.WaitGroup

	closeOnce sync.Once
}

func NewPool(workers, queueSize int, log *logrus.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	p := &Pool{
		jobs: make(chan func(context.Context), queueSize),
		log:  log,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		job(ctx)
		cancel()
	}
}

// Submit queues a job. It reports false when the queue is full and the
// job was dropped.
func (p *Pool) Submit(job func(context.Context)) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		p.log.Warn("accounting queue full, dropping job")
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.jobs)
	})
	p.wg.Wait()
}
