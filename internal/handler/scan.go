package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-checkin/internal/logger"
	"github.com/iliyamo/event-checkin/internal/middleware"
	"github.com/iliyamo/event-checkin/internal/model"
	"github.com/iliyamo/event-checkin/internal/scan"
)

// Scanner is satisfied by *scan.Processor.
type Scanner interface {
	Submit(ctx context.Context, req scan.Request) (scan.Result, error)
	RecentActivity(ctx context.Context, scopeID string, limit int) ([]model.ActivitySummary, error)
}

type ScanHandler struct {
	scanner Scanner
	log     *logger.Logger
}

func NewScanHandler(s Scanner, log *logger.Logger) *ScanHandler {
	if s == nil {
		panic("nil scanner passed to NewScanHandler")
	}
	return &ScanHandler{scanner: s, log: log.With("component", "ScanHandler")}
}

// Submit handles POST /v1/scans. Committed and no-op results answer 200;
// rejections answer 409 with the full result so the device can show why.
func (h *ScanHandler) Submit(c echo.Context) error {
	var req scan.Request
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	// the token subject is the operator of record
	if op := middleware.OperatorID(c); op != "anon" {
		req.OperatorID = op
	}
	res, err := h.scanner.Submit(c.Request().Context(), req)
	if err != nil {
		if classify(err).status == http.StatusInternalServerError {
			h.log.Error("scan failed", "badge_id", req.BadgeID, "scope_id", req.ScopeID, "error", err)
		}
		return respondError(c, err)
	}
	if res.Resolved == model.ResolvedRejected {
		return c.JSON(http.StatusConflict, res)
	}
	return c.JSON(http.StatusOK, res)
}
