package unit

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/bloodbank-api/internal/handler"
	"github.com/jwalitptl/bloodbank-api/internal/model"
	"github.com/jwalitptl/bloodbank-api/internal/service/ledger"
	apperrors "github.com/jwalitptl/bloodbank-api/pkg/errors"
)

type LedgerService interface {
	CreateUnit(ctx context.Context, id model.Identity, in ledger.CreateUnitInput) (*model.Unit, error)
	UpdateUnit(ctx context.Context, id model.Identity, unitID string, patch model.UnitPatch, reason string) (*model.Unit, error)
	IssueUnit(ctx context.Context, id model.Identity, bloodType string, req model.IssueRequest) (*ledger.IssueResult, error)
	UpdateTestResults(ctx context.Context, id model.Identity, unitID, results, screening string) (*model.Unit, error)
	DeleteUnit(ctx context.Context, id model.Identity, unitID, reason string) error
	SweepExpired(ctx context.Context, id model.Identity) (int, error)
}

type ReportService interface {
	List(ctx context.Context, id model.Identity, q model.UnitQuery) (*model.UnitPage, error)
	Count(ctx context.Context, id model.Identity, f model.UnitFilters) (int64, error)
	Get(ctx context.Context, id model.Identity, unitID string) (*model.UnitDetail, error)
	Summary(ctx context.Context, id model.Identity) (*model.InventorySummary, error)
}

type Handler struct {
	ledger  LedgerService
	reports ReportService
}

func NewHandler(ledger LedgerService, reports ReportService) *Handler {
	return &Handler{ledger: ledger, reports: reports}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	units := r.Group("/units")
	{
		units.POST("", h.CreateUnit)
		units.GET("", h.ListUnits)
		units.GET("/count", h.CountUnits)
		units.GET("/summary", h.Summary)
		units.POST("/issue", h.IssueUnit)
		units.POST("/sweep", h.SweepExpired)
		units.GET("/:unitId", h.GetUnit)
		units.PATCH("/:unitId", h.UpdateUnit)
		units.PUT("/:unitId/test-results", h.UpdateTestResults)
		units.DELETE("/:unitId", h.DeleteUnit)
	}
}

type createUnitRequest struct {
	DonorID         string `json:"donor_id" binding:"required,uuid"`
	BloodType       string `json:"blood_type" binding:"omitempty,bloodtype"`
	CollectionDate  string `json:"collection_date" binding:"required"`
	VolumeML        int    `json:"volume_ml" binding:"omitempty,min=1,max=1000"`
	CollectionSite  string `json:"collection_site" binding:"max=255"`
	StorageLocation string `json:"storage_location" binding:"max=255"`
	Notes           string `json:"notes" binding:"max=2000"`
}

func (h *Handler) CreateUnit(c *gin.Context) {
	var req createUnitRequest
	if err := handler.BindJSON(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}

	donorID, err := uuid.Parse(req.DonorID)
	if err != nil {
		handler.Fail(c, apperrors.InvalidInput("invalid donor_id"))
		return
	}
	collected, err := model.ParseDate(req.CollectionDate)
	if err != nil {
		handler.Fail(c, apperrors.InvalidCollectionDate("expected YYYY-MM-DD"))
		return
	}

	unit, err := h.ledger.CreateUnit(c.Request.Context(), handler.IdentityFrom(c), ledger.CreateUnitInput{
		DonorID:        donorID,
		BloodType:      req.BloodType,
		CollectionDate: collected,
		Attributes: model.UnitAttributes{
			VolumeML:        req.VolumeML,
			CollectionSite:  req.CollectionSite,
			StorageLocation: req.StorageLocation,
			Notes:           req.Notes,
		},
	})
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(unit))
}

type listQuery struct {
	BloodType        string `form:"blood_type" binding:"omitempty,bloodtype"`
	Status           string `form:"status" binding:"omitempty,unitstatus"`
	CollectedFrom    string `form:"collected_from"`
	CollectedTo      string `form:"collected_to"`
	Search           string `form:"search" binding:"max=100"`
	IncludeSynthetic bool   `form:"include_synthetic"`
	Page             int    `form:"page" binding:"omitempty,min=1"`
	PageSize         int    `form:"page_size" binding:"omitempty,min=1"`
	SortField        string `form:"sort_field"`
	SortOrder        string `form:"sort_order"`
}

func (q listQuery) filters() (model.UnitFilters, error) {
	f := model.UnitFilters{
		BloodType:        model.BloodType(q.BloodType),
		Status:           model.UnitStatus(strings.ToLower(q.Status)),
		Search:           q.Search,
		IncludeSynthetic: q.IncludeSynthetic,
	}
	var err error
	if f.CollectedFrom, err = optionalDate("collected_from", q.CollectedFrom); err != nil {
		return f, err
	}
	if f.CollectedTo, err = optionalDate("collected_to", q.CollectedTo); err != nil {
		return f, err
	}
	return f, nil
}

func optionalDate(name, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	d, err := model.ParseDate(v)
	if err != nil {
		return nil, apperrors.InvalidInput(name + " must be YYYY-MM-DD")
	}
	return &d, nil
}

func (h *Handler) ListUnits(c *gin.Context) {
	var q listQuery
	if err := handler.BindQuery(c, &q); err != nil {
		handler.Fail(c, err)
		return
	}
	filters, err := q.filters()
	if err != nil {
		handler.Fail(c, err)
		return
	}

	page, err := h.reports.List(c.Request.Context(), handler.IdentityFrom(c), model.UnitQuery{
		Filters:   filters,
		Page:      q.Page,
		PageSize:  q.PageSize,
		SortField: q.SortField,
		SortOrder: q.SortOrder,
	})
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(page))
}

func (h *Handler) CountUnits(c *gin.Context) {
	var q listQuery
	if err := handler.BindQuery(c, &q); err != nil {
		handler.Fail(c, err)
		return
	}
	filters, err := q.filters()
	if err != nil {
		handler.Fail(c, err)
		return
	}

	total, err := h.reports.Count(c.Request.Context(), handler.IdentityFrom(c), filters)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"total": total}))
}

func (h *Handler) Summary(c *gin.Context) {
	summary, err := h.reports.Summary(c.Request.Context(), handler.IdentityFrom(c))
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(summary))
}

func (h *Handler) GetUnit(c *gin.Context) {
	detail, err := h.reports.Get(c.Request.Context(), handler.IdentityFrom(c), c.Param("unitId"))
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(detail))
}

// UpdateUnit accepts a loose JSON object. Keys other than the updatable
// fields and "reason" are ignored.
func (h *Handler) UpdateUnit(c *gin.Context) {
	var fields map[string]json.RawMessage
	if err := c.ShouldBindJSON(&fields); err != nil {
		handler.Fail(c, apperrors.InvalidInput("request body must be a JSON object"))
		return
	}

	patch, err := model.UnitPatchFromFields(fields)
	if err != nil {
		handler.Fail(c, apperrors.InvalidInput(err.Error()))
		return
	}
	var reason string
	if raw, ok := fields["reason"]; ok {
		if err := json.Unmarshal(raw, &reason); err != nil {
			handler.Fail(c, apperrors.InvalidInput("reason must be a string"))
			return
		}
	}

	unit, err := h.ledger.UpdateUnit(c.Request.Context(), handler.IdentityFrom(c), c.Param("unitId"), patch, reason)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(unit))
}

type testResultsRequest struct {
	TestResults     string `json:"test_results" binding:"max=4000"`
	ScreeningStatus string `json:"screening_status" binding:"required,oneof=pending passed failed"`
}

func (h *Handler) UpdateTestResults(c *gin.Context) {
	var req testResultsRequest
	if err := handler.BindJSON(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}

	unit, err := h.ledger.UpdateTestResults(c.Request.Context(), handler.IdentityFrom(c),
		c.Param("unitId"), req.TestResults, req.ScreeningStatus)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(unit))
}

func (h *Handler) DeleteUnit(c *gin.Context) {
	unitID := c.Param("unitId")
	if err := h.ledger.DeleteUnit(c.Request.Context(), handler.IdentityFrom(c), unitID, c.Query("reason")); err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"unit_id": unitID, "deleted": true}))
}

type issueRequest struct {
	BloodType           string `json:"blood_type" binding:"required,bloodtype"`
	RequestReference    string `json:"request_reference" binding:"max=100"`
	RecipientFacility   string `json:"recipient_facility" binding:"max=255"`
	RecipientPatientRef string `json:"recipient_patient_ref" binding:"max=100"`
	Notes               string `json:"notes" binding:"max=2000"`
}

func (h *Handler) IssueUnit(c *gin.Context) {
	var req issueRequest
	if err := handler.BindJSON(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}

	result, err := h.ledger.IssueUnit(c.Request.Context(), handler.IdentityFrom(c), req.BloodType, model.IssueRequest{
		RequestReference:    req.RequestReference,
		RecipientFacility:   req.RecipientFacility,
		RecipientPatientRef: req.RecipientPatientRef,
		Notes:               req.Notes,
	})
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}

func (h *Handler) SweepExpired(c *gin.Context) {
	n, err := h.ledger.SweepExpired(c.Request.Context(), handler.IdentityFrom(c))
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"expired": n}))
}
