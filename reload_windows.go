//go:build windows

package main

// Windows has no SIGUSR1, so only file changes trigger a rebuild
func setupReloadSignal(rebuild func(string)) func() {
	return func() {}
}
