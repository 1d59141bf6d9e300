// Package testutil holds helpers shared by tests that need the real kernel.
package testutil

import (
	"os"
	"testing"
)

// KernelTestEnv enables tests that create real sets and rules.
const KernelTestEnv = "SETGUARD_KERNEL_TEST"

// RequireKernel skips the test unless KernelTestEnv is set and the process
// runs as root. These tests mutate the network stack of the current
// namespace, so they belong in a disposable VM or namespace.
func RequireKernel(t *testing.T) {
	t.Helper()
	if os.Getenv(KernelTestEnv) == "" {
		t.Skipf("Skipping test: requires %s environment", KernelTestEnv)
	}
	if os.Geteuid() != 0 {
		t.Skip("Skipping test: requires root")
	}
}
