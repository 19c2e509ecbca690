package orchestrator

import (
	"context"
	"errors"

	bt "github.com/joeycumines/go-behaviortree"
	"golang.org/x/sync/errgroup"
)

// Run starts every bridge, then ticks every runner and bridge until parent
// is done, a clean stop, or a ticker fails. Bridges are closed before Run
// returns. Run must be called at most once.
func (o *Orchestrator) Run(parent context.Context) (err error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	defer func() {
		for _, b := range o.bridges {
			if cerr := b.Close(); cerr != nil {
				o.logger.Warn("[Orchestrator] bridge close failed", "bridge", b.Index(), "error", cerr)
			}
		}
	}()
	for _, b := range o.bridges {
		if err := b.Start(ctx); err != nil {
			return err
		}
	}

	m := bt.NewManager()
	for _, r := range o.runners {
		if err := m.Add(r.NewTicker(ctx)); err != nil {
			m.Stop()
			return err
		}
	}
	for _, b := range o.bridges {
		if err := m.Add(b.NewTicker(ctx)); err != nil {
			m.Stop()
			return err
		}
	}
	o.logger.Info("[Orchestrator] running")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		m.Stop()
		return nil
	})
	g.Go(func() error {
		<-m.Done()
		cancel()
		return m.Err()
	})
	err = g.Wait()
	if errors.Is(err, context.Canceled) || (parent.Err() != nil && errors.Is(err, parent.Err())) {
		err = nil
	}
	o.logger.Info("[Orchestrator] stopped", "error", err)
	return err
}
