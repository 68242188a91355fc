package lifecycle

import (
	"sync"
	"time"
)

// Scope is anything cleanup functions can be registered with: a Page or an
// Atexit.
type Scope interface {
	Add(fn func())
}

// Subscribe subscribes fn to s and unsubscribes it when scope is cleaned up.
func Subscribe[T any](scope Scope, s *Stream[T], fn func(T)) {
	scope.Add(s.Subscribe(fn))
}

// Page is a loaded page. Its Atexit unsubscribes from streams and stops
// timers when the page is left.
type Page struct {
	atexit Atexit
}

// NewPage returns a page without registered cleanups.
func NewPage() *Page {
	return &Page{}
}

// Add registers fn with the page's Atexit.
func (p *Page) Add(fn func()) {
	p.atexit.Add(fn)
}

// NewAtexit returns a child Atexit that is run when the page is cleaned up.
func (p *Page) NewAtexit() *Atexit {
	return p.atexit.New()
}

// AfterFunc calls fn after d unless the page is cleaned up first.
func (p *Page) AfterFunc(d time.Duration, fn func()) {
	p.atexit.AfterFunc(d, fn)
}

// Tick calls fn every d until the page is cleaned up.
func (p *Page) Tick(d time.Duration, fn func()) {
	p.atexit.Tick(d, fn)
}

// Cleanup runs the page's Atexit.
func (p *Page) Cleanup() {
	p.atexit.Run()
}

// Navigator tracks the current page and cleans up the previous one when a
// new page has rendered.
type Navigator struct {
	mu      sync.Mutex
	current *Page
}

// Show renders a new page. If render fails, the new page is cleaned up and
// the current page stays.
func (n *Navigator) Show(render func(p *Page) error) error {
	p := NewPage()
	if err := render(p); err != nil {
		p.Cleanup()
		return err
	}

	n.mu.Lock()
	prev := n.current
	n.current = p
	n.mu.Unlock()

	if prev != nil {
		prev.Cleanup()
	}
	return nil
}

// Current returns the current page, nil before the first Show.
func (n *Navigator) Current() *Page {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Close cleans up the current page.
func (n *Navigator) Close() {
	n.mu.Lock()
	prev := n.current
	n.current = nil
	n.mu.Unlock()

	if prev != nil {
		prev.Cleanup()
	}
}
