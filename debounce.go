// Completion: 100% - Utility module complete
package main

import (
	"sync"
	"time"
)

const (
	watchDebounce = 300 * time.Millisecond
	watchPoll     = 100 * time.Millisecond
)

// debouncer collapses bursts of change events on a path into one
// callback, delay after the last event
type debouncer struct {
	mu       sync.Mutex
	delay    time.Duration
	timers   map[string]*time.Timer
	onChange func(string)
}

func newDebouncer(delay time.Duration, onChange func(string)) *debouncer {
	return &debouncer{delay: delay, timers: make(map[string]*time.Timer), onChange: onChange}
}

func (d *debouncer) trigger(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, exists := d.timers[path]; exists {
		timer.Stop()
	}
	d.timers[path] = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		delete(d.timers, path)
		d.mu.Unlock()
		d.onChange(path)
	})
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for path, timer := range d.timers {
		timer.Stop()
		delete(d.timers, path)
	}
}
