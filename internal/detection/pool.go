package detection

import (
	"errors"
	"fmt"
	"sync"
)

var ErrPoolClosed = errors.New("detection: pool closed")

// Pool is a fixed set of long lived workers. Tasks are plain functions; a
// panicking task is recovered and reported as its error.
type Pool struct {
	tasks chan func()
	size  int
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
	close  sync.Once
}

// NewPool starts size workers. size below 1 is treated as 1.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		tasks: make(chan func()),
		size:  size,
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

func (p *Pool) Size() int { return p.size }

// Go schedules fn and returns a channel that receives its result exactly
// once.
func (p *Pool) Go(fn func() error) <-chan error {
	done := make(chan error, 1)
	task := func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("task panicked: %v", r)
			}
		}()
		done <- fn()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		done <- ErrPoolClosed
		return done
	}
	p.tasks <- task
	return done
}

// Close stops the workers after queued tasks finish.
func (p *Pool) Close() {
	p.close.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()
		p.wg.Wait()
	})
}
