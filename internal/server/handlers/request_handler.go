package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/bloodbank/internal/domain/models"
)

// RequestHandler serves the hospital request lifecycle.
type RequestHandler struct {
	svc    BloodBank
	logger *zap.Logger
}

// NewRequestHandler constructs the HTTP handler adapter.
func NewRequestHandler(svc BloodBank, logger *zap.Logger) *RequestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestHandler{svc: svc, logger: logger}
}

type submitRequest struct {
	Hospital   string    `json:"hospital" binding:"required"`
	Reason     string    `json:"reason"`
	BloodType  string    `json:"blood_type" binding:"required"`
	Units      int       `json:"units" binding:"required,min=1"`
	Urgency    string    `json:"urgency"`
	RequiredBy time.Time `json:"required_by" binding:"required"`
	Priority   int       `json:"priority" binding:"required,min=1,max=5"`
}

type reserveRequest struct {
	BloodType string `json:"blood_type"`
	Quantity  int    `json:"quantity" binding:"omitempty,min=1"`
}

type closeRequest struct {
	Note string `json:"note"`
}

type noteRequest struct {
	Text string `json:"text" binding:"required"`
}

type scoredRequest struct {
	models.Request
	Score float64 `json:"score"`
}

// Submit registers a new request.
func (h *RequestHandler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, h.logger, err)
		return
	}
	bt, err := models.ParseBloodType(req.BloodType)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	urgency, err := models.ParseUrgency(req.Urgency)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	created, err := h.svc.SubmitRequest(c.Request.Context(), models.RequestInput{
		Hospital:       req.Hospital,
		Reason:         req.Reason,
		BloodType:      bt,
		UnitsRequested: req.Units,
		Urgency:        urgency,
		RequiredBy:     req.RequiredBy,
		Priority:       req.Priority,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// List returns the open requests in allocation order with their scores.
func (h *RequestHandler) List(c *gin.Context) {
	queue := h.svc.Queue()
	out := make([]scoredRequest, 0, len(queue))
	for _, r := range queue {
		out = append(out, scoredRequest{Request: r, Score: h.svc.ScoreRequest(r)})
	}
	c.JSON(http.StatusOK, out)
}

// Get returns one request with its current score.
func (h *RequestHandler) Get(c *gin.Context) {
	req, err := h.svc.Request(c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, scoredRequest{Request: req, Score: h.svc.ScoreRequest(req)})
}

// Reserve holds units for a request. Blood type and quantity default to the
// request's own type and outstanding demand.
func (h *RequestHandler) Reserve(c *gin.Context) {
	var req reserveRequest
	if !bindOptional(c, h.logger, &req) {
		return
	}

	id := c.Param("id")
	current, err := h.svc.Request(id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	bt := current.BloodType
	if req.BloodType != "" {
		if bt, err = models.ParseBloodType(req.BloodType); err != nil {
			writeError(c, h.logger, err)
			return
		}
	}
	if current.Status.Terminal() {
		writeError(c, h.logger, fmt.Errorf("%w: request %s is %s", models.ErrStaleOperation, id, current.Status))
		return
	}
	quantity := req.Quantity
	if quantity == 0 {
		quantity = current.Outstanding()
	}
	if quantity == 0 {
		c.JSON(http.StatusOK, models.ReservationResult{RequestID: id, Status: current.Status, UnitIDs: []string{}})
		return
	}

	res, err := h.svc.Reserve(c.Request.Context(), id, bt, quantity)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Cancel closes a request on the hospital's behalf.
func (h *RequestHandler) Cancel(c *gin.Context) {
	var req closeRequest
	if !bindOptional(c, h.logger, &req) {
		return
	}
	closed, err := h.svc.CancelRequest(c.Request.Context(), c.Param("id"), req.Note)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, closed)
}

// Reject closes a request on the bank's behalf.
func (h *RequestHandler) Reject(c *gin.Context) {
	var req closeRequest
	if !bindOptional(c, h.logger, &req) {
		return
	}
	closed, err := h.svc.RejectRequest(c.Request.Context(), c.Param("id"), req.Note)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, closed)
}

// Receipt records that the hospital received the dispatched units.
func (h *RequestHandler) Receipt(c *gin.Context) {
	updated, err := h.svc.ConfirmReceipt(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// AddNote appends an audit note.
func (h *RequestHandler) AddNote(c *gin.Context) {
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, h.logger, err)
		return
	}
	updated, err := h.svc.AddNote(c.Request.Context(), c.Param("id"), req.Text)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}
