package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/event-checkin/internal/model"
)

// ScopeRepo provides access to the scopes table.
type ScopeRepo struct {
	db *sql.DB
}

func NewScopeRepo(db *sql.DB) *ScopeRepo { return &ScopeRepo{db: db} }

const scopeColumns = `id, kind, event_id, name, max_capacity, opens_at, closes_at, closed, override_code_hash`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScope(row rowScanner) (model.Scope, error) {
	var (
		s        model.Scope
		capacity sql.NullInt64
		opens    sql.NullTime
		closes   sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.Kind, &s.EventID, &s.Name, &capacity, &opens, &closes, &s.Closed, &s.OverrideCodeHash); err != nil {
		return model.Scope{}, err
	}
	if capacity.Valid {
		n := int(capacity.Int64)
		s.MaxCapacity = &n
	}
	s.OpensAt = timePtr(opens)
	s.ClosesAt = timePtr(closes)
	return s, nil
}

func (r *ScopeRepo) GetScope(ctx context.Context, scopeID string) (model.Scope, error) {
	s, err := scanScope(r.db.QueryRowContext(ctx, `SELECT `+scopeColumns+` FROM scopes WHERE id = ?`, scopeID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Scope{}, model.ErrScopeNotFound
	}
	return s, err
}

// PutScope inserts or replaces a scope. An empty OverrideCodeHash keeps the
// stored hash.
func (r *ScopeRepo) PutScope(ctx context.Context, s model.Scope) error {
	var capacity sql.NullInt64
	if s.MaxCapacity != nil {
		capacity = sql.NullInt64{Int64: int64(*s.MaxCapacity), Valid: true}
	}
	eventID := s.EventID
	if s.Kind == model.ScopeEvent {
		eventID = s.ID
	}
	const q = `INSERT INTO scopes (` + scopeColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	           ON DUPLICATE KEY UPDATE kind = VALUES(kind), event_id = VALUES(event_id), name = VALUES(name),
	               max_capacity = VALUES(max_capacity), opens_at = VALUES(opens_at), closes_at = VALUES(closes_at),
	               closed = VALUES(closed),
	               override_code_hash = IF(VALUES(override_code_hash) = '', override_code_hash, VALUES(override_code_hash))`
	_, err := r.db.ExecContext(ctx, q, s.ID, string(s.Kind), eventID, s.Name, capacity,
		nullTime(s.OpensAt), nullTime(s.ClosesAt), s.Closed, s.OverrideCodeHash)
	return err
}

func (r *ScopeRepo) ListScopes(ctx context.Context) ([]model.Scope, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+scopeColumns+` FROM scopes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Scope{}
	for rows.Next() {
		s, err := scanScope(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
