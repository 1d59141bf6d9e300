//go:build !linux

package cmd

import "grimm.is/setguard/internal/lifecycle"

func newDetacher(env *Env) lifecycle.Detacher {
	return &lifecycle.GoroutineDetacher{Logger: env.Logger}
}
