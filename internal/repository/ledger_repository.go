package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/event-checkin/internal/model"
)

// LedgerRepo holds check_states and the append-only scan_events log. State
// changes are guarded by the version column (compare-and-swap) so several
// server processes can share one database.
type LedgerRepo struct {
	db *sql.DB
}

func NewLedgerRepo(db *sql.DB) *LedgerRepo { return &LedgerRepo{db: db} }

func (r *LedgerRepo) Load(ctx context.Context, badgeID, scopeID string) (model.CheckState, error) {
	const q = `SELECT badge_id, scope_id, presence, last_transition_at, last_transition_location, version
	           FROM check_states WHERE badge_id = ? AND scope_id = ?`
	var s model.CheckState
	err := r.db.QueryRowContext(ctx, q, badgeID, scopeID).Scan(
		&s.BadgeID, &s.ScopeID, &s.Presence, &s.LastTransitionAt, &s.LastTransitionLocation, &s.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CheckState{BadgeID: badgeID, ScopeID: scopeID, Presence: model.Outside}, nil
	}
	if err != nil {
		return model.CheckState{}, err
	}
	return s, nil
}

// Commit appends ev and, when next is set, swaps the state at version
// expected. Both writes share one transaction.
func (r *LedgerRepo) Commit(ctx context.Context, expected uint64, next *model.CheckState, ev model.ScanEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if next != nil {
		if err := swapStateTx(ctx, tx, expected, *next); err != nil {
			return err
		}
	}
	if err := insertEventTx(ctx, tx, ev); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	committed = true
	return nil
}

func swapStateTx(ctx context.Context, tx *sql.Tx, expected uint64, s model.CheckState) error {
	if expected == 0 {
		const ins = `INSERT INTO check_states
		             (badge_id, scope_id, presence, last_transition_at, last_transition_location, version)
		             VALUES (?, ?, ?, ?, ?, ?)`
		_, err := tx.ExecContext(ctx, ins, s.BadgeID, s.ScopeID, string(s.Presence), s.LastTransitionAt.UTC(), s.LastTransitionLocation, s.Version)
		if isDuplicateKey(err) {
			return model.ErrVersionConflict
		}
		return err
	}
	const upd = `UPDATE check_states
	             SET presence = ?, last_transition_at = ?, last_transition_location = ?, version = ?
	             WHERE badge_id = ? AND scope_id = ? AND version = ?`
	res, err := tx.ExecContext(ctx, upd, string(s.Presence), s.LastTransitionAt.UTC(), s.LastTransitionLocation, s.Version,
		s.BadgeID, s.ScopeID, expected)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrVersionConflict
	}
	return nil
}

func insertEventTx(ctx context.Context, tx *sql.Tx, ev model.ScanEvent) error {
	const q = `INSERT INTO scan_events
	           (id, badge_id, participant_id, scope_id, event_id, requested_action, resolved_action, outcome,
	            ts, client_ts, received_at, location, operator_id)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q, ev.ID, ev.BadgeID, ev.ParticipantID, ev.ScopeID, ev.EventID,
		string(ev.Requested), string(ev.Resolved), string(ev.Outcome),
		ev.Timestamp.UTC(), zeroableTime(ev.ClientTimestamp), ev.ReceivedAt.UTC(), ev.Location, ev.OperatorID)
	return err
}

const eventColumns = `id, badge_id, participant_id, scope_id, event_id, requested_action, resolved_action, outcome,
                      ts, client_ts, received_at, location, operator_id`

func scanEvents(rows *sql.Rows) ([]model.ScanEvent, error) {
	defer rows.Close()
	out := []model.ScanEvent{}
	for rows.Next() {
		var (
			ev     model.ScanEvent
			client sql.NullTime
		)
		if err := rows.Scan(&ev.ID, &ev.BadgeID, &ev.ParticipantID, &ev.ScopeID, &ev.EventID,
			&ev.Requested, &ev.Resolved, &ev.Outcome, &ev.Timestamp, &client, &ev.ReceivedAt,
			&ev.Location, &ev.OperatorID); err != nil {
			return nil, err
		}
		if client.Valid {
			ev.ClientTimestamp = client.Time.UTC()
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Recent returns the newest events of scopeID in commit order, newest first.
func (r *LedgerRepo) Recent(ctx context.Context, scopeID string, limit int) ([]model.ScanEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM scan_events WHERE scope_id = ? ORDER BY seq DESC LIMIT ?`, scopeID, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// ListScanEvents returns the whole log in commit order.
func (r *LedgerRepo) ListScanEvents(ctx context.Context) ([]model.ScanEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM scan_events ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}
