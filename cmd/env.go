package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-sync/internal/job"
	"github.com/sells-group/catalog-sync/internal/store"
)

// serviceEnv holds the store and job machinery shared by the serve/run/jobs
// commands.
type serviceEnv struct {
	Store   store.Store
	Manager *job.Manager
	Queue   *job.Queue
}

// Close releases resources held by the environment.
func (e *serviceEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv opens the store, runs migrations, and wires the job manager and
// queue. Callers should defer env.Close().
func initEnv(ctx context.Context) (*serviceEnv, error) {
	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	manager := job.NewManager(cfg, st)
	queue := job.NewQueue(manager, cfg.Queue)

	return &serviceEnv{
		Store:   st,
		Manager: manager,
		Queue:   queue,
	}, nil
}
