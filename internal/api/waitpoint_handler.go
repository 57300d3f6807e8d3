package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/taskrun/engine/internal/biz/waitpoint"
	"github.com/taskrun/engine/internal/engine"
)

type WaitpointHandler struct {
	engine *engine.Engine
}

func NewWaitpointHandler(eng *engine.Engine) *WaitpointHandler {
	return &WaitpointHandler{engine: eng}
}

type WaitpointResponse struct {
	ID             string           `json:"id"`
	FriendlyID     string           `json:"friendly_id"`
	Type           waitpoint.Type   `json:"type"`
	Status         waitpoint.Status `json:"status"`
	EnvironmentID  string           `json:"environment_id"`
	CompletedAfter *time.Time       `json:"completed_after,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	Output         json.RawMessage  `json:"output,omitempty"`
	OutputType     string           `json:"output_type,omitempty"`
	OutputIsError  bool             `json:"output_is_error"`
	CreatedAt      time.Time        `json:"created_at"`
}

func newWaitpointResponse(wp *waitpoint.Waitpoint) WaitpointResponse {
	return WaitpointResponse{
		ID:             wp.ID,
		FriendlyID:     wp.FriendlyID,
		Type:           wp.Type,
		Status:         wp.Status,
		EnvironmentID:  wp.EnvironmentID,
		CompletedAfter: wp.CompletedAfter,
		CompletedAt:    wp.CompletedAt,
		Output:         wp.Output,
		OutputType:     wp.OutputType,
		OutputIsError:  wp.OutputIsError,
		CreatedAt:      wp.CreatedAt,
	}
}

type CreateDateTimeWaitpointReq struct {
	EnvironmentID  string    `json:"environment_id" binding:"required"`
	ProjectID      string    `json:"project_id"`
	CompletedAfter time.Time `json:"completed_after" binding:"required"`
}

func (h *WaitpointHandler) CreateDateTime(c *gin.Context) {
	var req CreateDateTimeWaitpointReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	wp, err := h.engine.CreateDateTimeWaitpoint(c.Request.Context(), req.ProjectID, req.EnvironmentID, req.CompletedAfter)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, newWaitpointResponse(wp))
}

type CreateManualWaitpointReq struct {
	EnvironmentID           string     `json:"environment_id" binding:"required"`
	ProjectID               string     `json:"project_id"`
	IdempotencyKey          string     `json:"idempotency_key"`
	IdempotencyKeyExpiresAt *time.Time `json:"idempotency_key_expires_at"`
	Timeout                 *time.Time `json:"timeout"`
}

func (h *WaitpointHandler) CreateManual(c *gin.Context) {
	var req CreateManualWaitpointReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	wp, err := h.engine.CreateManualWaitpoint(c.Request.Context(), engine.ManualWaitpointRequest{
		EnvironmentID:           req.EnvironmentID,
		ProjectID:               req.ProjectID,
		IdempotencyKey:          req.IdempotencyKey,
		IdempotencyKeyExpiresAt: req.IdempotencyKeyExpiresAt,
		Timeout:                 req.Timeout,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, newWaitpointResponse(wp))
}

type CompleteWaitpointReq struct {
	Output        json.RawMessage `json:"output"`
	OutputType    string          `json:"output_type"`
	OutputIsError bool            `json:"output_is_error"`
}

func (h *WaitpointHandler) Complete(c *gin.Context) {
	var req CompleteWaitpointReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	wp, err := h.engine.CompleteWaitpoint(c.Request.Context(), engine.CompleteWaitpointRequest{
		ID:            c.Param("id"),
		Output:        req.Output,
		OutputType:    req.OutputType,
		OutputIsError: req.OutputIsError,
		Source:        "api",
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, newWaitpointResponse(wp))
}

type BlockRunReq struct {
	WaitpointIDs   []string `json:"waitpoint_ids" binding:"required"`
	ProjectID      string   `json:"project_id"`
	OrganizationID string   `json:"organization_id"`
}

func (h *WaitpointHandler) BlockRun(c *gin.Context) {
	var req BlockRunReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.engine.BlockRunWithWaitpoint(c.Request.Context(), engine.BlockRequest{
		RunID:          c.Param("id"),
		WaitpointIDs:   req.WaitpointIDs,
		ProjectID:      req.ProjectID,
		OrganizationID: req.OrganizationID,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, newSnapshotResponse(snap))
}
