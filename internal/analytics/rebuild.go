package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/event-checkin/internal/logger"
	"github.com/iliyamo/event-checkin/internal/model"
)

// History is the durable record the engine can be rebuilt from.
type History interface {
	ListScopes(ctx context.Context) ([]model.Scope, error)
	ListRegistrations(ctx context.Context) ([]model.RegistrationRecord, error)
	ListScanEvents(ctx context.Context) ([]model.ScanEvent, error)
}

// Dataset is one consistent-enough read of History.
type Dataset struct {
	Scopes        []model.Scope
	Registrations []model.RegistrationRecord
	Scans         []model.ScanEvent
}

// LoadDataset reads the three collections concurrently.
func LoadDataset(ctx context.Context, h History) (Dataset, error) {
	var ds Dataset
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ds.Scopes, err = h.ListScopes(gctx)
		if err != nil {
			return fmt.Errorf("list scopes: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		ds.Registrations, err = h.ListRegistrations(gctx)
		if err != nil {
			return fmt.Errorf("list registrations: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		ds.Scans, err = h.ListScanEvents(gctx)
		if err != nil {
			return fmt.Errorf("list scan events: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Dataset{}, err
	}
	return ds, nil
}

// Follower is rebuilt from the same Dataset after the engine, e.g. the
// occupancy counters.
type Follower func(ctx context.Context, ds Dataset) error

// Status describes the latest rebuild.
type Status struct {
	Running    bool      `json:"running"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Rebuilder runs at most one rebuild at a time. Starting a new one cancels
// the one in flight.
type Rebuilder struct {
	engine    *Engine
	history   History
	followers []Follower
	log       *logger.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	status Status
}

func NewRebuilder(engine *Engine, history History, log *logger.Logger, followers ...Follower) *Rebuilder {
	return &Rebuilder{engine: engine, history: history, followers: followers, log: log.With("component", "AnalyticsRebuilder")}
}

// Start launches a rebuild detached from the caller's request. The returned
// channel receives its result.
func (r *Rebuilder) Start(parent context.Context) <-chan error {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.gen++
	gen := r.gen
	r.cancel = cancel
	r.status = Status{Running: true, StartedAt: time.Now().UTC()}
	r.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		err := r.run(ctx)
		cancel()
		r.mu.Lock()
		if r.gen == gen {
			r.cancel = nil
			r.status.Running = false
			r.status.FinishedAt = time.Now().UTC()
			if err != nil {
				r.status.Error = err.Error()
			}
		}
		r.mu.Unlock()
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			r.log.Info("rebuild superseded", "generation", gen)
		default:
			r.log.Error("rebuild failed", "generation", gen, "error", err)
		}
		done <- err
	}()
	return done
}

func (r *Rebuilder) run(ctx context.Context) error {
	ds, err := LoadDataset(ctx, r.history)
	if err != nil {
		return err
	}
	if err := r.engine.RebuildFrom(ctx, ds); err != nil {
		return err
	}
	for _, f := range r.followers {
		if err := f(ctx, ds); err != nil {
			return err
		}
	}
	return nil
}

// Status returns the state of the latest rebuild.
func (r *Rebuilder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}
