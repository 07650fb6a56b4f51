package customfield

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/practice/internal/platform/auth"
	"github.com/ehr/practice/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleNurse))
	read.GET("/formulas/operators", h.Operators)
	read.POST("/formulas/validate", h.Validate)
	read.POST("/formulas/evaluate", h.Evaluate)
	read.POST("/formulas/dependencies", h.Dependencies)
	read.POST("/formulas/check-cycle", h.CheckCycle)
	read.GET("/calculated-fields", h.ListCalculatedFields)
	read.GET("/calculated-fields/:id", h.GetCalculatedField)
	read.GET("/entities/:id/values", h.ListValues)
	read.PUT("/entities/:id/values/:field", h.SetValue)
	read.POST("/entities/:id/measurements", h.RecordMeasurement)
	read.POST("/entities/:id/recalculate", h.Recalculate)

	write := api.Group("", auth.RequireRole(auth.RoleAdmin))
	write.POST("/calculated-fields", h.CreateCalculatedField)
	write.PUT("/calculated-fields/:id", h.UpdateCalculatedField)
	write.DELETE("/calculated-fields/:id", h.DeleteCalculatedField)
}

// httpError maps service errors to status codes. Anything unrecognised is a
// validation failure.
func httpError(err error) error {
	var cycle *CycleError
	switch {
	case errors.As(err, &cycle):
		return echo.NewHTTPError(http.StatusConflict, map[string]interface{}{
			"message": err.Error(),
			"cycle":   cycle.Cycle,
		})
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateName), errors.Is(err, ErrFieldInUse):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Formula tools --

type formulaRequest struct {
	Formula string `json:"formula"`
}

type evaluateRequest struct {
	Formula       string         `json:"formula"`
	Values        map[string]any `json:"values"`
	DecimalPlaces *int           `json:"decimal_places"`
}

type cycleRequest struct {
	FieldName    string   `json:"field_name"`
	Dependencies []string `json:"dependencies"`
}

func (h *Handler) Operators(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Operators())
}

func (h *Handler) Validate(c echo.Context) error {
	var req formulaRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, h.svc.ValidateFormula(req.Formula))
}

func (h *Handler) Evaluate(c echo.Context) error {
	var req evaluateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, h.svc.EvaluateFormula(req.Formula, req.Values, req.DecimalPlaces))
}

func (h *Handler) Dependencies(c echo.Context) error {
	var req formulaRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"dependencies": h.svc.Dependencies(req.Formula),
	})
}

func (h *Handler) CheckCycle(c echo.Context) error {
	var req cycleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.FieldName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "field_name is required")
	}
	res, err := h.svc.CheckCycle(c.Request().Context(), req.FieldName, req.Dependencies)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

// -- Calculated field definitions --

func (h *Handler) CreateCalculatedField(c echo.Context) error {
	var f CalculatedField
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateCalculatedField(c.Request().Context(), &f); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, f)
}

func (h *Handler) GetCalculatedField(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	f, err := h.svc.GetCalculatedField(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "calculated field not found")
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) ListCalculatedFields(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListCalculatedFields(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateCalculatedField(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var f CalculatedField
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	f.ID = id
	if err := h.svc.UpdateCalculatedField(c.Request().Context(), &f); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) DeleteCalculatedField(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteCalculatedField(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Entity values --

type valueRequest struct {
	Value *float64 `json:"value"`
	Text  *string  `json:"text"`
}

type recalculateRequest struct {
	Changed []string `json:"changed"`
}

func (h *Handler) ListValues(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListValues(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*FieldValue{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) SetValue(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req valueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v := &FieldValue{EntityID: id, FieldName: c.Param("field"), Value: req.Value, Text: req.Text}
	report, err := h.svc.SetFieldValue(c.Request().Context(), v)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) RecordMeasurement(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var m Measurement
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m.EntityID = id
	report, err := h.svc.RecordMeasurement(c.Request().Context(), &m)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, report)
}

func (h *Handler) Recalculate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req recalculateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	report, err := h.svc.Recalculate(c.Request().Context(), id, req.Changed)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}
