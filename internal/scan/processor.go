// Package scan turns raw badge scans into committed check-in/check-out
// transitions. It is the only writer of CheckState.
package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/event-checkin/internal/logger"
	"github.com/iliyamo/event-checkin/internal/model"
	"github.com/iliyamo/event-checkin/internal/occupancy"
	"github.com/iliyamo/event-checkin/internal/registry"
	"github.com/iliyamo/event-checkin/internal/utils"
)

// Ledger stores CheckState and the append-only ScanEvent log.
type Ledger interface {
	// Load returns the state of (badgeID, scopeID), or an OUTSIDE state
	// with Version 0 when the pair was never scanned.
	Load(ctx context.Context, badgeID, scopeID string) (model.CheckState, error)
	// Commit appends ev and, when next is not nil, replaces the state whose
	// version is expected. Both happen or neither does. A version mismatch
	// returns model.ErrVersionConflict.
	Commit(ctx context.Context, expected uint64, next *model.CheckState, ev model.ScanEvent) error
	// Recent returns the newest events for scopeID, newest first.
	Recent(ctx context.Context, scopeID string, limit int) ([]model.ScanEvent, error)
}

// ScopeStore looks up scopes; unknown IDs yield model.ErrScopeNotFound.
type ScopeStore interface {
	GetScope(ctx context.Context, scopeID string) (model.Scope, error)
}

// BadgeResolver is satisfied by *registry.Registry.
type BadgeResolver interface {
	ResolveForScope(ctx context.Context, badgeID, scopeID string) (registry.Identity, error)
}

// Sink receives every recorded ScanEvent after it is durable. Sinks must
// not block for long; they run on the scan path.
type Sink interface {
	Observe(ctx context.Context, ev model.ScanEvent)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev model.ScanEvent)

func (f SinkFunc) Observe(ctx context.Context, ev model.ScanEvent) { f(ctx, ev) }

type Config struct {
	// MaxClockSkew bounds how far a device clock may drift from the server
	// before the server time is used instead.
	MaxClockSkew time.Duration
	// CASRetries is how often a commit is retried after a version conflict.
	CASRetries int
	// ActivityLimit is the RecentActivity page size when none is given.
	ActivityLimit int
}

// Request is one scan as sent by a device.
type Request struct {
	BadgeID         string    `json:"badge_id"`
	ScopeID         string    `json:"scope_id"`
	Action          string    `json:"action"`
	ClientTimestamp time.Time `json:"client_timestamp"`
	Location        string    `json:"location"`
	OperatorID      string    `json:"operator_id"`
	OverrideCode    string    `json:"override_code,omitempty"`
}

// ParticipantView is the scanner-facing identity snapshot.
type ParticipantView struct {
	ID          string `json:"participant_id"`
	DisplayName string `json:"display_name"`
	RoleLabel   string `json:"role_label"`
}

// Result is returned for every recorded scan, accepted or not.
type Result struct {
	Event       model.ScanEvent  `json:"event"`
	Resolved    model.Resolution `json:"resolved_action"`
	Outcome     model.Outcome    `json:"outcome"`
	Message     string           `json:"message"`
	Participant ParticipantView  `json:"participant"`
	RoleAtScope model.Role       `json:"role_at_scope"`
	State       model.CheckState `json:"state"`
}

type Processor struct {
	cfg       Config
	ledger    Ledger
	scopes    ScopeStore
	badges    BadgeResolver
	occupancy *occupancy.Aggregator
	sinks     []Sink
	locks     *keyLock
	log       *logger.Logger
	now       func() time.Time
}

func NewProcessor(cfg Config, ledger Ledger, scopes ScopeStore, badges BadgeResolver, occ *occupancy.Aggregator, log *logger.Logger, sinks ...Sink) *Processor {
	if cfg.CASRetries < 0 {
		cfg.CASRetries = 0
	}
	return &Processor{
		cfg:       cfg,
		ledger:    ledger,
		scopes:    scopes,
		badges:    badges,
		occupancy: occ,
		sinks:     sinks,
		locks:     newKeyLock(),
		log:       log.With("component", "ScanProcessor"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AddSink registers s for events recorded from now on. Not safe to call
// concurrently with Submit.
func (p *Processor) AddSink(s Sink) {
	p.sinks = append(p.sinks, s)
}

// Submit processes one scan. Unknown badges and scopes return an error and
// record nothing; every other outcome, rejections included, is recorded and
// reported in the Result.
func (p *Processor) Submit(ctx context.Context, req Request) (Result, error) {
	req.BadgeID = strings.TrimSpace(req.BadgeID)
	req.ScopeID = strings.TrimSpace(req.ScopeID)
	if req.BadgeID == "" || req.ScopeID == "" {
		return Result{}, fmt.Errorf("%w: badge_id and scope_id are required", model.ErrInvalidScan)
	}
	action, ok := model.ParseAction(req.Action)
	if !ok {
		return Result{}, fmt.Errorf("%w: unknown action %q", model.ErrInvalidScan, req.Action)
	}

	scope, err := p.scopes.GetScope(ctx, req.ScopeID)
	if err != nil {
		if errors.Is(err, model.ErrScopeNotFound) {
			p.log.Warn("scan for unknown scope", "scope_id", req.ScopeID, "badge_id", req.BadgeID, "operator_id", req.OperatorID)
		}
		return Result{}, err
	}
	id, err := p.badges.ResolveForScope(ctx, req.BadgeID, scope.ID)
	if err != nil {
		if errors.Is(err, model.ErrBadgeNotFound) {
			p.log.Warn("scan for unknown badge", "badge_id", req.BadgeID, "scope_id", scope.ID, "operator_id", req.OperatorID)
		}
		return Result{}, err
	}

	received := p.now()
	effective := p.effectiveTime(req.ClientTimestamp, received)
	base := model.ScanEvent{
		BadgeID:         id.Badge.ID,
		ParticipantID:   id.Participant.ID,
		ScopeID:         scope.ID,
		EventID:         scope.RootEventID(),
		Requested:       action,
		Timestamp:       effective,
		ClientTimestamp: req.ClientTimestamp,
		ReceivedAt:      received,
		Location:        req.Location,
		OperatorID:      req.OperatorID,
	}

	unlock := p.locks.Lock(id.Badge.ID + "\x00" + scope.ID)
	defer unlock()

	var (
		ev    model.ScanEvent
		state model.CheckState
	)
	for attempt := 0; ; attempt++ {
		ev, state, err = p.attempt(ctx, scope, base, req.OverrideCode)
		if err == nil {
			break
		}
		if errors.Is(err, model.ErrVersionConflict) && attempt < p.cfg.CASRetries {
			p.log.Debug("check state moved underneath us, retrying", "badge_id", base.BadgeID, "scope_id", scope.ID, "attempt", attempt+1)
			continue
		}
		return Result{}, err
	}

	for _, s := range p.sinks {
		s.Observe(ctx, ev)
	}
	p.log.Info("scan recorded",
		"scan_id", ev.ID, "badge_id", ev.BadgeID, "scope_id", ev.ScopeID,
		"requested", ev.Requested, "resolved", ev.Resolved, "outcome", ev.Outcome)

	return Result{
		Event:    ev,
		Resolved: ev.Resolved,
		Outcome:  ev.Outcome,
		Message:  messageFor(ev),
		Participant: ParticipantView{
			ID:          id.Participant.ID,
			DisplayName: id.Participant.DisplayName,
			RoleLabel:   id.Participant.RoleLabel(),
		},
		RoleAtScope: id.RoleAtScope,
		State:       state,
	}, nil
}

func (p *Processor) effectiveTime(client, received time.Time) time.Time {
	if client.IsZero() {
		return received
	}
	d := received.Sub(client)
	if d < 0 {
		d = -d
	}
	if d > p.cfg.MaxClockSkew {
		return received
	}
	return client.UTC()
}

// attempt runs one load-resolve-commit cycle. The caller holds the key lock.
func (p *Processor) attempt(ctx context.Context, scope model.Scope, base model.ScanEvent, overrideCode string) (model.ScanEvent, model.CheckState, error) {
	state, err := p.ledger.Load(ctx, base.BadgeID, scope.ID)
	if err != nil {
		return model.ScanEvent{}, model.CheckState{}, fmt.Errorf("load check state: %w", err)
	}

	ev := base
	ev.ID = uuid.NewString()
	resolved, next := Resolve(state.Presence, base.Requested)
	ev.Resolved, ev.Outcome = resolved, model.OutcomeCommitted

	if !state.LastTransitionAt.IsZero() && ev.Timestamp.Before(state.LastTransitionAt) {
		// device clocks disagree; the state machine still decides
		p.log.Debug("scan older than last transition", "badge_id", base.BadgeID, "scope_id", scope.ID,
			"scan_at", ev.Timestamp, "last_transition_at", state.LastTransitionAt)
	}

	var reservation *occupancy.Reservation
	switch {
	case resolved == model.ResolvedNoOp:
		ev.Outcome = model.OutcomeDuplicate
	case resolved == model.ResolvedCheckIn && !scope.AcceptsEntryAt(ev.Timestamp):
		ev.Resolved, ev.Outcome = model.ResolvedRejected, model.OutcomeScopeClosed
	case resolved == model.ResolvedCheckIn:
		reservation, err = p.occupancy.Reserve(ctx, scope, false)
		if errors.Is(err, model.ErrCapacityExceeded) {
			if utils.VerifyOverrideCode(scope.OverrideCodeHash, overrideCode) {
				reservation, err = p.occupancy.Reserve(ctx, scope, true)
				ev.Outcome = model.OutcomeOverride
			} else {
				reservation, err = nil, nil
				ev.Resolved, ev.Outcome = model.ResolvedRejected, model.OutcomeCapacityExceeded
			}
		}
		if err != nil {
			return model.ScanEvent{}, model.CheckState{}, err
		}
	}

	var nextState *model.CheckState
	if ev.Changed() {
		ns := state
		ns.BadgeID, ns.ScopeID = base.BadgeID, scope.ID
		ns.Presence = next
		ns.LastTransitionAt = ev.Timestamp
		ns.LastTransitionLocation = ev.Location
		ns.Version = state.Version + 1
		nextState = &ns
	}

	if err := p.ledger.Commit(ctx, state.Version, nextState, ev); err != nil {
		if reservation != nil {
			p.occupancy.Cancel(ctx, reservation)
		}
		return model.ScanEvent{}, model.CheckState{}, err
	}

	switch {
	case reservation != nil:
		if err := p.occupancy.Commit(ctx, reservation); err != nil {
			p.log.Error("occupancy commit failed after ledger commit", "scope_id", scope.ID, "scan_id", ev.ID, "error", err)
		}
	case ev.Resolved == model.ResolvedCheckOut:
		if err := p.occupancy.Release(ctx, scope.ID); err != nil {
			p.log.Error("occupancy release failed after ledger commit", "scope_id", scope.ID, "scan_id", ev.ID, "error", err)
		}
	}

	if nextState != nil {
		return ev, *nextState, nil
	}
	state.BadgeID, state.ScopeID = base.BadgeID, scope.ID
	return ev, state, nil
}

func messageFor(ev model.ScanEvent) string {
	switch ev.Outcome {
	case model.OutcomeDuplicate:
		if ev.Requested == model.ActionCheckIn {
			return "already checked in"
		}
		return "not checked in"
	case model.OutcomeCapacityExceeded:
		return "scope is at capacity"
	case model.OutcomeScopeClosed:
		return "scope is not accepting entries"
	case model.OutcomeOverride:
		return "checked in with supervisor override"
	}
	if ev.Resolved == model.ResolvedCheckOut {
		return "checked out"
	}
	return "checked in"
}

// RecentActivity lists the newest recorded scans for scopeID.
func (p *Processor) RecentActivity(ctx context.Context, scopeID string, limit int) ([]model.ActivitySummary, error) {
	if _, err := p.scopes.GetScope(ctx, scopeID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = p.cfg.ActivityLimit
	}
	if limit <= 0 {
		limit = 20
	}
	events, err := p.ledger.Recent(ctx, scopeID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent activity %s: %w", scopeID, err)
	}
	out := make([]model.ActivitySummary, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Summary())
	}
	return out, nil
}
