//go:build !linux

package cmd

// SetProcessName is a no-op outside linux.
func SetProcessName(string) error { return nil }
