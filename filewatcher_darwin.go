// Completion: 100% - Platform-specific module complete
//go:build darwin

package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// FileWatcher reports writes to source files through kqueue
type FileWatcher struct {
	kq       int
	closed   atomic.Bool
	mu       sync.Mutex
	watchMap map[int]string
	debounce *debouncer
}

func NewFileWatcher(onChange func(string)) (*FileWatcher, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("kqueue failed: %w", err)
	}
	return &FileWatcher{
		kq:       kq,
		watchMap: make(map[int]string),
		debounce: newDebouncer(watchDebounce, onChange),
	}, nil
}

func (fw *FileWatcher) AddFile(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	fd, err := unix.Open(absPath, unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", absPath, err)
	}

	event := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_VNODE,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
		Fflags: unix.NOTE_WRITE | unix.NOTE_ATTRIB | unix.NOTE_RENAME,
	}
	if _, err := unix.Kevent(fw.kq, []unix.Kevent_t{event}, nil, nil); err != nil {
		unix.Close(fd)
		return fmt.Errorf("failed to add kevent for %s: %w", absPath, err)
	}

	fw.mu.Lock()
	fw.watchMap[fd] = absPath
	fw.mu.Unlock()
	return nil
}

// Watch blocks, delivering change events, until Close is called
func (fw *FileWatcher) Watch() {
	events := make([]unix.Kevent_t, 10)
	timeout := unix.NsecToTimespec(int64(watchPoll))

	for !fw.closed.Load() {
		n, err := unix.Kevent(fw.kq, nil, events, &timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if !fw.closed.Load() {
				log.Errorf("reading kevent: %v", err)
			}
			return
		}

		for _, event := range events[:n] {
			fw.mu.Lock()
			path := fw.watchMap[int(event.Ident)]
			fw.mu.Unlock()
			if path != "" {
				fw.debounce.trigger(path)
			}
		}
	}
}

func (fw *FileWatcher) Close() error {
	if fw.closed.Swap(true) {
		return nil
	}
	fw.debounce.stop()

	fw.mu.Lock()
	for fd := range fw.watchMap {
		unix.Close(fd)
	}
	fw.mu.Unlock()
	return unix.Close(fw.kq)
}
