package realtime

import (
	"context"
	"time"

	"github.com/iliyamo/event-checkin/internal/logger"
	"github.com/iliyamo/event-checkin/internal/model"
)

// Snapshotter is satisfied by the occupancy aggregator.
type Snapshotter interface {
	Snapshot(ctx context.Context, scope model.Scope) (model.Occupancy, error)
}

// ScopeLookup is satisfied by the scope stores.
type ScopeLookup interface {
	GetScope(ctx context.Context, scopeID string) (model.Scope, error)
}

// ScanSink publishes every recorded scan, and the new occupancy when a
// scan moved someone, on the scope's channel.
type ScanSink struct {
	bus    Bus
	occ    Snapshotter
	scopes ScopeLookup
	log    *logger.Logger
}

func NewScanSink(bus Bus, occ Snapshotter, scopes ScopeLookup, log *logger.Logger) *ScanSink {
	return &ScanSink{bus: bus, occ: occ, scopes: scopes, log: log.With("component", "RealtimeSink")}
}

func (s *ScanSink) Observe(ctx context.Context, ev model.ScanEvent) {
	// the scan request may finish before the bus does
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	channel := ScopeChannel(ev.ScopeID)
	if err := s.bus.Publish(ctx, Message{Channel: channel, Event: EventScanRecorded, Data: ev.Summary()}); err != nil {
		s.log.Warn("publish scan failed", "scope_id", ev.ScopeID, "error", err)
	}
	if !ev.Changed() {
		return
	}
	scope, err := s.scopes.GetScope(ctx, ev.ScopeID)
	if err != nil {
		s.log.Warn("scope lookup for occupancy push failed", "scope_id", ev.ScopeID, "error", err)
		return
	}
	snap, err := s.occ.Snapshot(ctx, scope)
	if err != nil {
		s.log.Warn("occupancy snapshot failed", "scope_id", ev.ScopeID, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, Message{Channel: channel, Event: EventOccupancyChanged, Data: snap}); err != nil {
		s.log.Warn("publish occupancy failed", "scope_id", ev.ScopeID, "error", err)
	}
}
