package reconcile

import (
	"grimm.is/setguard/internal/ipset"
	"grimm.is/setguard/internal/logging"
)

// Result describes a published generation.
type Result struct {
	Set      string
	Count    int
	Capacity int
	Previous int
}

// Publisher swaps staged generations into the live set.
type Publisher struct {
	store  ipset.Store
	logger *logging.Logger
}

// NewPublisher creates a publisher.
func NewPublisher(store ipset.Store, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{store: store, logger: logger.WithComponent("publisher")}
}

// Publish exchanges the staged set with its target and destroys the displaced
// generation. A failed swap destroys the staged set and leaves the live set
// as it was. A failed cleanup after a successful swap is only logged.
func (p *Publisher) Publish(staged *Staged) (*Result, error) {
	if _, err := p.store.Create(staged.Target, staged.Capacity); err != nil {
		p.discard(staged)
		return nil, err
	}

	if err := p.store.Swap(staged.TempName, staged.Target); err != nil {
		p.discard(staged)
		return nil, err
	}

	if err := p.store.Destroy(staged.TempName); err != nil {
		p.logger.Warn("published, but the previous generation could not be destroyed",
			"set", staged.Target, "temp", staged.TempName, "error", err)
	}

	p.logger.Info("published generation",
		"set", staged.Target, "count", staged.Count, "previous", staged.Previous)
	return &Result{
		Set:      staged.Target,
		Count:    staged.Count,
		Capacity: staged.Capacity,
		Previous: staged.Previous,
	}, nil
}

func (p *Publisher) discard(staged *Staged) {
	if err := p.store.Destroy(staged.TempName); err != nil {
		p.logger.Error("failed to remove staging set", "set", staged.TempName, "error", err)
	}
}
