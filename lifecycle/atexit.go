package lifecycle

import (
	"sync"
	"sync/atomic"
	"time"
)

// Atexit is an ordered list of cleanup functions. Pages that re-render a
// part of their contents create a child Atexit for that part and Run it
// before rendering the part again.
//
// Functions added while Run is in progress are kept for the next Run.
type Atexit struct {
	mu  sync.Mutex
	fns []func()
}

// Add registers fn to be called by the next Run.
func (a *Atexit) Add(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fns = append(a.fns, fn)
}

// Run calls the registered functions once, in registration order, and clears
// the list. The Atexit can be reused afterwards.
func (a *Atexit) Run() {
	a.mu.Lock()
	fns := a.fns
	a.fns = nil
	a.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Len returns the number of registered functions.
func (a *Atexit) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.fns)
}

// New returns a child Atexit that is run as part of a's Run, at the position
// it was created.
func (a *Atexit) New() *Atexit {
	child := &Atexit{}
	a.Add(child.Run)
	return child
}

// AfterFunc calls fn after d unless a is run first. A call that started
// before Run may still be in progress when Run returns.
func (a *Atexit) AfterFunc(d time.Duration, fn func()) {
	var stopped atomic.Bool
	t := time.AfterFunc(d, func() {
		if !stopped.Load() {
			fn()
		}
	})
	a.Add(func() {
		stopped.Store(true)
		t.Stop()
	})
}

// Tick calls fn every d until a is run, e.g. to keep a displayed age
// current. As with AfterFunc, a call in progress is not waited for.
func (a *Atexit) Tick(d time.Duration, fn func()) {
	t := time.NewTicker(d)
	stop := make(chan struct{})
	var stopped atomic.Bool
	go func() {
		for {
			select {
			case <-t.C:
				if !stopped.Load() {
					fn()
				}
			case <-stop:
				return
			}
		}
	}()
	a.Add(func() {
		stopped.Store(true)
		t.Stop()
		close(stop)
	})
}
