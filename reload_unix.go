// Completion: 100% - Platform-specific module complete
//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// setupReloadSignal rebuilds on SIGUSR1, for editors that save through
// a rename the watcher cannot see
func setupReloadSignal(rebuild func(string)) func() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGUSR1)
	go func() {
		for range sigChan {
			rebuild("manual rebuild (SIGUSR1)")
		}
	}()
	return func() {
		signal.Stop(sigChan)
		close(sigChan)
	}
}
