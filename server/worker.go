package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chazu/vavoomc/vm"
)

// ErrWorkerStopped is returned by Do after Stop.
var ErrWorkerStopped = errors.New("runtime worker stopped")

// request is a unit of work to be executed on the runtime goroutine.
type request struct {
	fn   func(*vm.Runtime) (any, error)
	done chan result
}

type result struct {
	value any
	err   error
}

// Worker serializes all runtime access through a single goroutine.
// The runtime is single-threaded; every RPC handler goes through the
// worker to avoid data races.
type Worker struct {
	rt       *vm.Runtime
	requests chan request
	quit     chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a Worker and starts the processing goroutine.
func NewWorker(rt *vm.Runtime) *Worker {
	w := &Worker{
		rt:       rt,
		requests: make(chan request, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially on a dedicated goroutine.
func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs a function on the runtime, recovering from panics raised
// by native code.
func (w *Worker) execute(fn func(*vm.Runtime) (any, error)) (res result) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("recovered panic on runtime goroutine: %v", r)
			res = result{err: fmt.Errorf("panic: %v", r)}
		}
	}()
	v, err := fn(w.rt)
	return result{value: v, err: err}
}

// Do submits a function for execution on the runtime goroutine and blocks
// until it completes.
func (w *Worker) Do(fn func(*vm.Runtime) (any, error)) (any, error) {
	req := request{fn: fn, done: make(chan result, 1)}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, ErrWorkerStopped
	}
	select {
	case res := <-req.done:
		return res.value, res.err
	case <-w.quit:
		return nil, ErrWorkerStopped
	}
}

// StartCollector requests a collection every interval, on the runtime
// goroutine. Returns a stop function.
func (w *Worker) StartCollector(interval time.Duration, destroyDelayed bool) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				_, err := w.Do(func(rt *vm.Runtime) (any, error) {
					return rt.CollectGarbage(destroyDelayed), nil
				})
				if err != nil {
					log.Warningf("periodic collection: %s", err)
				}
			case <-done:
				ticker.Stop()
				return
			case <-w.quit:
				ticker.Stop()
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// Stop shuts down the worker goroutine. Pending and later Do calls fail
// with ErrWorkerStopped.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
}
