package bed

import (
	"net/http"
	"time"

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
	// Reads are open to any authenticated actor
	api.GET("/beds", h.ListBeds)
	api.GET("/beds/:id", h.GetBed)
	api.GET("/hospitals/:id/bed-summary", h.GetSummary)

	write := api.Group("", auth.RequireKind(auth.KindHospital))
	write.POST("/beds", h.CreateBed)
	write.PUT("/beds/:id", h.UpdateBed)
	write.DELETE("/beds/:id", h.DeleteBed)
	write.POST("/beds/:id/assign", h.AssignBed)
	write.POST("/beds/:id/release", h.ReleaseBed)
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.HTTP(apperr.Validation(name, "invalid %s", name))
	}
	return id, nil
}

func (h *Handler) CreateBed(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	var b Bed
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), actor, &b); err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBed(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	b, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBeds(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)

	f := Filter{Status: Status(c.QueryParam("status")), Type: Type(c.QueryParam("bed_type"))}
	if v := c.QueryParam("hospital_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return apperr.HTTP(apperr.Validation("hospital_id", "invalid hospital_id"))
		}
		f.HospitalID = id
	} else if actor.Is(auth.KindHospital) {
		f.HospitalID = actor.ID
	}
	if v := c.QueryParam("department_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return apperr.HTTP(apperr.Validation("department_id", "invalid department_id"))
		}
		f.DepartmentID = &id
	}

	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetSummary(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	s, err := h.svc.Summary(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) UpdateBed(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var p Patch
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.Update(c.Request().Context(), actor, id, p)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) DeleteBed(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), actor, id); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type assignRequest struct {
	PatientID     uuid.UUID  `json:"patient_id"`
	AdmissionDate *time.Time `json:"admission_date"`
	ReferralID    *uuid.UUID `json:"referral_id"`
}

func (h *Handler) AssignBed(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req assignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	occ := Occupant{PatientID: req.PatientID, ReferralID: req.ReferralID}
	if req.AdmissionDate != nil {
		occ.AdmissionDate = *req.AdmissionDate
	}
	b, err := h.svc.AssignAs(c.Request().Context(), actor, id, occ)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ReleaseBed(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	b, err := h.svc.ReleaseAs(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}
