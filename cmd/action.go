package cmd

import (
	"context"
	"os"

	"grimm.is/setguard/internal/lifecycle"
)

// RunAction performs one lifecycle action against target, a list name or
// "all". Status output goes to stdout; everything else only logs.
func RunAction(configFile, name, target string) error {
	action, err := lifecycle.ParseAction(name)
	if err != nil {
		return err
	}
	if target == "" {
		target = lifecycle.TargetAll
	}

	env, err := Open(configFile)
	if err != nil {
		return err
	}
	defer env.Close()

	reports, err := env.Controller.Dispatch(context.Background(), action, target)
	if action == lifecycle.ActionStatus {
		RenderStatus(os.Stdout, reports)
	}
	return err
}
