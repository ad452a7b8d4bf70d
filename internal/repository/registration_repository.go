package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/event-checkin/internal/model"
)

// RegistrationRepo stores the newest registration record per
// (participant, event).
type RegistrationRepo struct {
	db *sql.DB
}

func NewRegistrationRepo(db *sql.DB) *RegistrationRepo { return &RegistrationRepo{db: db} }

// PutRegistration upserts r unless the stored record is newer. On equal
// updated_at a cancellation wins, matching the analytics fold.
func (r *RegistrationRepo) PutRegistration(ctx context.Context, rec model.RegistrationRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin registration tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var (
		curStatus  model.RegistrationStatus
		curUpdated sql.NullTime
	)
	err = tx.QueryRowContext(ctx,
		`SELECT status, updated_at FROM registrations WHERE participant_id = ? AND event_id = ? FOR UPDATE`,
		rec.ParticipantID, rec.EventID).Scan(&curStatus, &curUpdated)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	case curUpdated.Time.After(rec.UpdatedAt):
		return nil
	case curUpdated.Time.Equal(rec.UpdatedAt) && curStatus == model.RegistrationCancelled:
		return nil
	}

	const q = `INSERT INTO registrations (participant_id, event_id, badge_id, status, registered_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?)
	           ON DUPLICATE KEY UPDATE badge_id = VALUES(badge_id), status = VALUES(status),
	               registered_at = VALUES(registered_at), updated_at = VALUES(updated_at)`
	if _, err := tx.ExecContext(ctx, q, rec.ParticipantID, rec.EventID, rec.BadgeID, string(rec.Status),
		rec.RegisteredAt.UTC(), rec.UpdatedAt.UTC()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (r *RegistrationRepo) ListRegistrations(ctx context.Context) ([]model.RegistrationRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT participant_id, event_id, badge_id, status, registered_at, updated_at
		 FROM registrations ORDER BY event_id, participant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.RegistrationRecord{}
	for rows.Next() {
		var rec model.RegistrationRecord
		if err := rows.Scan(&rec.ParticipantID, &rec.EventID, &rec.BadgeID, &rec.Status, &rec.RegisteredAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
