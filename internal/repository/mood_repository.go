package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/event-checkin/internal/mood"
)

// MoodRepo persists the session sentiment feed.
type MoodRepo struct {
	db *sql.DB
}

func NewMoodRepo(db *sql.DB) *MoodRepo { return &MoodRepo{db: db} }

func (r *MoodRepo) InsertMood(ctx context.Context, e mood.Entry) error {
	const q = `INSERT INTO mood_entries (id, session_id, participant_id, mood, intensity, at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q, e.ID, e.SessionID, e.ParticipantID, string(e.Type), e.Intensity, e.At.UTC())
	return err
}

// ListMoods returns entries at or after since, oldest first.
func (r *MoodRepo) ListMoods(ctx context.Context, since time.Time) ([]mood.Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, participant_id, mood, intensity, at FROM mood_entries WHERE at >= ? ORDER BY at`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []mood.Entry{}
	for rows.Next() {
		var e mood.Entry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ParticipantID, &e.Type, &e.Intensity, &e.At); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
