package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/bloodbank/internal/domain/models"
)

// InventoryHandler serves unit intake, unit transitions and stock reports.
type InventoryHandler struct {
	svc    BloodBank
	logger *zap.Logger
}

// NewInventoryHandler constructs the HTTP handler adapter.
func NewInventoryHandler(svc BloodBank, logger *zap.Logger) *InventoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InventoryHandler{svc: svc, logger: logger}
}

type addUnitRequest struct {
	BloodType   string    `json:"blood_type" binding:"required"`
	CollectedAt time.Time `json:"collected_at" binding:"required"`
	DonationRef string    `json:"donation_ref"`
}

type unitsRequest struct {
	UnitIDs []string `json:"unit_ids" binding:"required,min=1,dive,required"`
}

type discardRequest struct {
	UnitIDs []string `json:"unit_ids" binding:"required,min=1,dive,required"`
	Reason  string   `json:"reason" binding:"required"`
}

type dispatchRequest struct {
	UnitIDs     []string `json:"unit_ids" binding:"required,min=1,dive,required"`
	Destination string   `json:"destination" binding:"required"`
}

// AddUnit registers a collected unit.
func (h *InventoryHandler) AddUnit(c *gin.Context) {
	var req addUnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, h.logger, err)
		return
	}
	bt, err := models.ParseBloodType(req.BloodType)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	unit, err := h.svc.AddUnit(c.Request.Context(), bt, req.CollectedAt, req.DonationRef)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, unit)
}

// Release returns reserved units to stock.
func (h *InventoryHandler) Release(c *gin.Context) {
	var req unitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, h.logger, err)
		return
	}
	if err := h.svc.Release(c.Request.Context(), req.UnitIDs); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": len(req.UnitIDs)})
}

// Discard removes units from circulation.
func (h *InventoryHandler) Discard(c *gin.Context) {
	var req discardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, h.logger, err)
		return
	}
	if err := h.svc.Discard(c.Request.Context(), req.UnitIDs, req.Reason); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"discarded": len(req.UnitIDs)})
}

// Dispatch ships reserved units.
func (h *InventoryHandler) Dispatch(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, h.logger, err)
		return
	}
	if err := h.svc.Dispatch(c.Request.Context(), req.UnitIDs, req.Destination); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispatched": len(req.UnitIDs), "destination": req.Destination})
}

// Sweep runs an expiry pass on demand.
func (h *InventoryHandler) Sweep(c *gin.Context) {
	res, err := h.svc.SweepExpired(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Allocate expires overdue requests and allocates stock to the open ones.
func (h *InventoryHandler) Allocate(c *gin.Context) {
	ctx := c.Request.Context()
	expired, err := h.svc.ExpireOverdueRequests(ctx)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	results, err := h.svc.AllocatePending(ctx)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if results == nil {
		results = []models.ReservationResult{}
	}
	c.JSON(http.StatusOK, gin.H{"expired_requests": len(expired), "results": results})
}

// Stock reports every ledger.
func (h *InventoryHandler) Stock(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.StockOverview())
}

// StockByType reports one ledger.
func (h *InventoryHandler) StockByType(c *gin.Context) {
	bt, err := models.ParseBloodType(c.Param("type"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	report, err := h.svc.StockStatus(bt)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
