package storegateway

// Finisher is the single serialization point spec.md §4.1 requires:
// every asynchronous durable-write and notify completion is queued here
// and runs one at a time, never concurrently with each other or with
// the Update Coordinator's own batching pass (a queued task hands its
// state changes to the engine's owning goroutine, which also runs the
// batching pass).
type Finisher struct {
	tasks chan func()
	done  chan struct{}
}

// NewFinisher starts the Finisher's single worker goroutine.
func NewFinisher() *Finisher {
	f := &Finisher{
		tasks: make(chan func(), 256),
		done:  make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *Finisher) run() {
	defer close(f.done)
	for task := range f.tasks {
		task()
	}
}

// Queue enqueues a completion callback. Callers must not call Queue
// after Stop has been invoked — the engine guarantees this by only
// stopping the Finisher once its async-op tracker has reached zero.
func (f *Finisher) Queue(task func()) {
	f.tasks <- task
}

// Stop closes the task queue and blocks until every already-queued
// callback has run.
func (f *Finisher) Stop() {
	close(f.tasks)
	<-f.done
}
