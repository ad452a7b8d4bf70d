package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-checkin/internal/mood"
)

// MoodRecorder is satisfied by *mood.Feed.
type MoodRecorder interface {
	Record(ctx context.Context, e mood.Entry) (mood.Entry, error)
}

type MoodHandler struct {
	feed   MoodRecorder
	scopes ScopeStore
}

func NewMoodHandler(feed MoodRecorder, scopes ScopeStore) *MoodHandler {
	return &MoodHandler{feed: feed, scopes: scopes}
}

// Record handles POST /v1/sessions/:id/moods.
func (h *MoodHandler) Record(c echo.Context) error {
	var body struct {
		ParticipantID string `json:"participant_id"`
		Mood          string `json:"mood"`
		Intensity     int    `json:"intensity"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	t, err := mood.ParseType(body.Mood)
	if err != nil {
		return respondError(c, err)
	}
	ctx := c.Request().Context()
	sessionID := c.Param("id")
	if _, err := h.scopes.GetScope(ctx, sessionID); err != nil {
		return respondError(c, err)
	}
	e, err := h.feed.Record(ctx, mood.Entry{SessionID: sessionID, ParticipantID: body.ParticipantID, Type: t, Intensity: body.Intensity})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, e)
}
