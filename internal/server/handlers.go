package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/estuarylab/knowledged/internal/ask"
)

type asker interface {
	Ask(ctx context.Context, req ask.Request) (ask.Response, error)
}

// AskHandler serves POST /api/ask.
type AskHandler struct {
	Asker   asker
	Timeout time.Duration
}

func (h *AskHandler) Register(g *echo.Group) {
	g.POST("/ask", h.handleAsk)
}

func (h *AskHandler) handleAsk(c echo.Context) error {
	var req ask.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	ctx := c.Request().Context()
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	resp, err := h.Asker.Ask(ctx, req)
	if err != nil {
		// Backend detail goes to the log, not the caller.
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
	return c.JSON(http.StatusOK, resp)
}
