package billing

import (
	"fmt"
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
	api.GET("/bills", h.ListBills)
	api.GET("/bills/:id", h.GetBill)
	api.GET("/bills/:id/statement", h.GetStatement)

	hospitals := api.Group("", auth.RequireKind(auth.KindHospital, auth.KindAdmin))
	hospitals.POST("/bills", h.CreateBill)
	hospitals.POST("/referrals/:id/bill", h.CreateFromReferral)
	hospitals.POST("/bills/:id/payments", h.RecordPayment)
	hospitals.POST("/bills/:id/bed-charge", h.AddBedCharge)
	hospitals.POST("/bills/:id/cancel", h.CancelBill)
	hospitals.POST("/bills/:id/refund", h.RefundBill)
	hospitals.DELETE("/bills/:id", h.DeleteBill)
}

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

func (h *Handler) CreateBill(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	var b Bill
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), actor, &b); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) CreateFromReferral(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	var req FromReferralRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.CreateFromReferral(c.Request().Context(), actor, id, req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBill(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) GetStatement(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	pdf, b, err := h.svc.Statement(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", b.BillNumber+".pdf"))
	return c.Blob(http.StatusOK, "application/pdf", pdf)
}

func (h *Handler) ListBills(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := Filter{Status: PaymentStatus(c.QueryParam("status"))}
	if v := c.QueryParam("hospital_id"); v != "" && actor.IsAdmin() {
		id, err := uuid.Parse(v)
		if err != nil {
			return apperr.HTTP(apperr.Validation("hospital_id", "invalid hospital_id"))
		}
		f.HospitalID = &id
	}
	items, total, err := h.svc.List(c.Request().Context(), actor, f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
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
	b, err := h.svc.RecordPayment(c.Request().Context(), actor, id, in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

type bedChargeRequest struct {
	PricePerDay float64 `json:"price_per_day"`
	Days        int     `json:"days"`
}

func (h *Handler) AddBedCharge(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	var req bedChargeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.AddBedCharge(c.Request().Context(), actor, id, req.PricePerDay, req.Days)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) CancelBill(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.Cancel(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) RefundBill(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.Refund(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) DeleteBill(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), actor, id); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
