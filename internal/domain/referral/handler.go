package referral

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/referrals", h.ListReferrals)
	api.GET("/referrals/:id", h.GetReferral)

	doctors := api.Group("", auth.RequireKind(auth.KindDoctor))
	doctors.POST("/referrals", h.CreateReferral)
	doctors.POST("/referrals/:id/cancel", h.CancelReferral)
	doctors.DELETE("/referrals/:id", h.DeleteReferral)

	hospitals := api.Group("", auth.RequireKind(auth.KindHospital))
	hospitals.POST("/referrals/:id/accept", h.AcceptReferral)
	hospitals.POST("/referrals/:id/reject", h.RejectReferral)
	hospitals.POST("/referrals/:id/assign-bed", h.AssignBed)
	hospitals.POST("/referrals/:id/complete", h.CompleteReferral)
	hospitals.POST("/referrals/:id/payments", h.RecordPayment)
}

// actorAndID resolves the caller and the :id path parameter.
func actorAndID(c echo.Context) (auth.Actor, uuid.UUID, error) {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return auth.Actor{}, uuid.Nil, err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return auth.Actor{}, uuid.Nil, apperr.HTTP(apperr.Validation("id", "invalid id"))
	}
	return actor, id, nil
}

func (h *Handler) CreateReferral(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	var r Referral
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), actor, &r); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) GetReferral(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListReferrals(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), actor, Status(c.QueryParam("status")), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

type acceptRequest struct {
	BedID *uuid.UUID `json:"bed_id"`
}

func (h *Handler) AcceptReferral(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	var req acceptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.Accept(c.Request().Context(), actor, id, req.BedID)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) RejectReferral(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	var req rejectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.Reject(c.Request().Context(), actor, id, req.Reason)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) AssignBed(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	var req AssignBedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.AssignBed(c.Request().Context(), actor, id, req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) CompleteReferral(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Complete(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) CancelReferral(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Cancel(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DeleteReferral(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), actor, id); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RecordPayment(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	var in PaymentInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, _, err := h.svc.RecordPaymentAs(c.Request().Context(), actor, id, in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}
