//go:build linux

package cmd

import (
	"os"
	"os/exec"
	"syscall"

	"grimm.is/setguard/internal/lifecycle"
)

// processDetacher re-executes the binary as "seed-load <list>" in a new
// session so the load outlives the invoking action.
type processDetacher struct {
	configFile string
}

func newDetacher(env *Env) lifecycle.Detacher {
	return &processDetacher{configFile: env.ConfigFile}
}

func (d *processDetacher) Detach(list string, _ func() error) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	cmd := exec.Command(exe, "-c", d.configFile, "seed-load", list)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	// The child writes its own log file; console output is discarded.
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil

	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
