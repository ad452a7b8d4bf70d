// Package mood is the live sentiment feed of sessions. Entries are kept in
// one window.Log per session and queried with the same bucketing used for
// occupancy.
package mood

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/event-checkin/internal/logger"
	"github.com/iliyamo/event-checkin/internal/window"
)

var ErrInvalidMood = errors.New("invalid mood entry")

type Type string

const (
	Engaged    Type = "engaged"
	Excited    Type = "excited"
	Inspired   Type = "inspired"
	Neutral    Type = "neutral"
	Confused   Type = "confused"
	Bored      Type = "bored"
	Frustrated Type = "frustrated"
)

var knownTypes = map[Type]bool{
	Engaged: true, Excited: true, Inspired: true, Neutral: true,
	Confused: true, Bored: true, Frustrated: true,
}

func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !knownTypes[t] {
		return "", fmt.Errorf("%w: unknown mood %q", ErrInvalidMood, s)
	}
	return t, nil
}

// Entry is one mood submission.
//
// Fields:
//  ID:            mood_entries.id (uuid).
//  SessionID:     scope the mood was reported in.
//  ParticipantID: reporter; may be empty for anonymous kiosks.
//  Intensity:     1..10.
type Entry struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	ParticipantID string    `json:"participant_id,omitempty"`
	Type          Type      `json:"mood"`
	Intensity     int       `json:"intensity"`
	At            time.Time `json:"at"`
}

// Store persists entries so the feed survives restarts.
type Store interface {
	InsertMood(ctx context.Context, e Entry) error
	ListMoods(ctx context.Context, since time.Time) ([]Entry, error)
}

type Feed struct {
	store     Store
	retention time.Duration
	log       *logger.Logger
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]*window.Log
}

func NewFeed(store Store, retention time.Duration, log *logger.Logger) *Feed {
	return &Feed{
		store:     store,
		retention: retention,
		log:       log.With("component", "MoodFeed"),
		now:       func() time.Time { return time.Now().UTC() },
		sessions:  map[string]*window.Log{},
	}
}

func (f *Feed) logFor(sessionID string) *window.Log {
	f.mu.RLock()
	l := f.sessions[sessionID]
	f.mu.RUnlock()
	if l != nil {
		return l
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if l = f.sessions[sessionID]; l == nil {
		l = window.NewLog(f.retention)
		f.sessions[sessionID] = l
	}
	return l
}

func validate(e Entry) error {
	if strings.TrimSpace(e.SessionID) == "" {
		return fmt.Errorf("%w: session_id is required", ErrInvalidMood)
	}
	if !knownTypes[e.Type] {
		return fmt.Errorf("%w: unknown mood %q", ErrInvalidMood, e.Type)
	}
	if e.Intensity < 1 || e.Intensity > 10 {
		return fmt.Errorf("%w: intensity %d out of range 1..10", ErrInvalidMood, e.Intensity)
	}
	return nil
}

// Record validates, persists and indexes one entry.
func (f *Feed) Record(ctx context.Context, e Entry) (Entry, error) {
	if err := validate(e); err != nil {
		return Entry{}, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = f.now()
	}
	if err := f.store.InsertMood(ctx, e); err != nil {
		return Entry{}, fmt.Errorf("insert mood: %w", err)
	}
	f.logFor(e.SessionID).Append(toWindow(e))
	return e, nil
}

func toWindow(e Entry) window.Entry {
	return window.Entry{At: e.At, Category: string(e.Type), Weight: float64(e.Intensity)}
}

// Query buckets the moods of sessionID over [now-lookback, now]. Average
// weights in the result are average intensities.
func (f *Feed) Query(sessionID string, now time.Time, width, lookback time.Duration) (window.Result, error) {
	f.mu.RLock()
	l := f.sessions[sessionID]
	f.mu.RUnlock()
	q := window.Query{Now: now, Lookback: lookback, BucketWidth: width}
	if l == nil {
		return window.Aggregate(nil, q)
	}
	return l.Query(q)
}

// Load warms the in-memory logs from the store. Entries that no longer
// validate are skipped and logged.
func (f *Feed) Load(ctx context.Context) error {
	since := time.Time{}
	if f.retention > 0 {
		since = f.now().Add(-f.retention)
	}
	entries, err := f.store.ListMoods(ctx, since)
	if err != nil {
		return fmt.Errorf("list moods: %w", err)
	}
	skipped := 0
	for _, e := range entries {
		if err := validate(e); err != nil {
			skipped++
			continue
		}
		f.logFor(e.SessionID).Append(toWindow(e))
	}
	f.log.Info("mood feed loaded", "entries", len(entries)-skipped, "skipped", skipped)
	return nil
}
