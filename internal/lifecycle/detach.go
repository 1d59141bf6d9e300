package lifecycle

import (
	"sync"

	"grimm.is/setguard/internal/logging"
)

// Detacher starts a whitelist seed load without waiting for it. The caller
// never learns whether the load succeeded; the load logs its own outcome.
type Detacher interface {
	// Detach starts the load of list. load performs it in-process; an
	// implementation may run it elsewhere instead.
	Detach(list string, load func() error) error
}

// GoroutineDetacher runs loads on goroutines of the current process.
type GoroutineDetacher struct {
	Logger *logging.Logger
	wg     sync.WaitGroup
}

// Detach runs load in the background.
func (d *GoroutineDetacher) Detach(list string, load func() error) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := load(); err != nil && d.Logger != nil {
			d.Logger.WithList(list).Error("detached seed load failed", "error", err)
		}
	}()
	return nil
}

// Wait blocks until every load started so far has returned.
func (d *GoroutineDetacher) Wait() {
	d.wg.Wait()
}
