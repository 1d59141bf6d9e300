package rules

import (
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner abstracts shell command execution.
type CommandRunner interface {
	Run(name string, args ...string) error
	Output(name string, args ...string) ([]byte, error)
}

// RealCommandRunner executes actual commands.
type RealCommandRunner struct{}

// Run executes a command without capturing output.
func (r *RealCommandRunner) Run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("command %s failed: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Output executes a command and returns its output.
func (r *RealCommandRunner) Output(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// NamespaceRunner runs every command inside a network namespace via nsenter.
type NamespaceRunner struct {
	Runner CommandRunner
	Path   string
}

func (n *NamespaceRunner) wrap(name string, args []string) []string {
	return append([]string{"--net=" + n.Path, "--", name}, args...)
}

func (n *NamespaceRunner) Run(name string, args ...string) error {
	return n.Runner.Run("nsenter", n.wrap(name, args)...)
}

func (n *NamespaceRunner) Output(name string, args ...string) ([]byte, error) {
	return n.Runner.Output("nsenter", n.wrap(name, args)...)
}

// DefaultCommandRunner is the default command runner.
var DefaultCommandRunner CommandRunner = &RealCommandRunner{}
