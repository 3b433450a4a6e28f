// Completion: 100% - Platform-specific module complete
//go:build !linux && !darwin

package main

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileWatcher polls modification times where no kernel notification
// API is wired up
type FileWatcher struct {
	mu       sync.Mutex
	watchMap map[string]time.Time
	debounce *debouncer
	stopChan chan struct{}
	once     sync.Once
}

func NewFileWatcher(onChange func(string)) (*FileWatcher, error) {
	return &FileWatcher{
		watchMap: make(map[string]time.Time),
		debounce: newDebouncer(watchDebounce, onChange),
		stopChan: make(chan struct{}),
	}, nil
}

func (fw *FileWatcher) AddFile(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return err
	}

	fw.mu.Lock()
	fw.watchMap[absPath] = info.ModTime()
	fw.mu.Unlock()
	return nil
}

// Watch blocks, delivering change events, until Close is called
func (fw *FileWatcher) Watch() {
	ticker := time.NewTicker(watchPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fw.checkFiles()
		case <-fw.stopChan:
			return
		}
	}
}

func (fw *FileWatcher) checkFiles() {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	for path, lastMod := range fw.watchMap {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().After(lastMod) {
			fw.watchMap[path] = info.ModTime()
			fw.debounce.trigger(path)
		}
	}
}

func (fw *FileWatcher) Close() error {
	fw.once.Do(func() {
		close(fw.stopChan)
		fw.debounce.stop()
	})
	return nil
}
