package call

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/calls", h.ListCalls)
	api.POST("/calls", h.InitiateCall)
	api.GET("/calls/:id", h.GetCall)
	api.POST("/calls/:id/end", h.EndCall)
}

type initiateRequest struct {
	ReceiverID uuid.UUID  `json:"receiver_id"`
	ChatID     *uuid.UUID `json:"chat_id"`
	CallType   string     `json:"call_type"`
}

// InitiateCall pre-creates the call record over HTTP. Ringing and the rest
// of the lifecycle run over the websocket gateway.
func (h *Handler) InitiateCall(c echo.Context) error {
	userID, ok := auth.UserIDFromEcho(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication error")
	}
	var req initiateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.Initiate(c.Request().Context(), userID, req.ReceiverID, req.ChatID, req.CallType)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) GetCall(c echo.Context) error {
	userID, ok := auth.UserIDFromEcho(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication error")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "call not found")
	}
	if userID != rec.CallerID && userID != rec.ReceiverID {
		return echo.NewHTTPError(http.StatusForbidden, "not a participant")
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListCalls(c echo.Context) error {
	userID, ok := auth.UserIDFromEcho(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication error")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByUser(c.Request().Context(), userID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// EndCall is the HTTP fallback for hanging up when the websocket is gone.
func (h *Handler) EndCall(c echo.Context) error {
	userID, ok := auth.UserIDFromEcho(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication error")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.End(c.Request().Context(), id, userID)
	if err != nil {
		switch {
		case errors.Is(err, ErrCallNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "call not found")
		case errors.Is(err, ErrNotParticipant):
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		case errors.Is(err, ErrAlreadyTerminal):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}
