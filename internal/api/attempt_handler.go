package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/taskrun/engine/internal/biz/run"
	"github.com/taskrun/engine/internal/engine"
)

type AttemptHandler struct {
	engine *engine.Engine
}

func NewAttemptHandler(eng *engine.Engine) *AttemptHandler {
	return &AttemptHandler{engine: eng}
}

type DequeueReq struct {
	ConsumerID  string `json:"consumer_id" binding:"required"`
	WorkerQueue string `json:"worker_queue" binding:"required"`
}

func (h *AttemptHandler) Dequeue(c *gin.Context) {
	var req DequeueReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items, err := h.engine.DequeueFromWorkerQueue(c.Request.Context(), req.ConsumerID, req.WorkerQueue)
	if err != nil {
		_ = c.Error(err)
		return
	}

	out := make([]ExecutionDataResponse, len(items))
	for i, item := range items {
		out[i] = newExecutionDataResponse(item)
	}
	c.JSON(http.StatusOK, gin.H{"items": out})
}

type StartAttemptReq struct {
	SnapshotID string `json:"snapshot_id" binding:"required"`
}

func (h *AttemptHandler) Start(c *gin.Context) {
	var req StartAttemptReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	data, err := h.engine.StartRunAttempt(c.Request.Context(), c.Param("id"), req.SnapshotID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, newExecutionDataResponse(data))
}

type RetryDirectiveReq struct {
	Timestamp *time.Time `json:"timestamp"`
	DelayMS   int64      `json:"delay_ms"`
}

type CompleteAttemptReq struct {
	SnapshotID string             `json:"snapshot_id" binding:"required"`
	Ok         bool               `json:"ok"`
	Output     *string            `json:"output"`
	OutputType string             `json:"output_type"`
	Error      *run.Error         `json:"error"`
	Retry      *RetryDirectiveReq `json:"retry"`
}

func (h *AttemptHandler) Complete(c *gin.Context) {
	var req CompleteAttemptReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	completion := engine.Completion{
		Ok:         req.Ok,
		Output:     req.Output,
		OutputType: req.OutputType,
		Error:      req.Error,
	}
	if req.Retry != nil {
		directive := &engine.RetryDirective{DelayMS: req.Retry.DelayMS}
		if req.Retry.Timestamp != nil {
			directive.Timestamp = *req.Retry.Timestamp
		}
		completion.Retry = directive
	}

	result, err := h.engine.CompleteRunAttempt(c.Request.Context(), c.Param("id"), req.SnapshotID, completion)
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := gin.H{
		"run":            newRunResponse(result.Run),
		"snapshot":       newSnapshotResponse(result.Snapshot),
		"attempt_status": result.AttemptStatus,
	}
	if result.RetryAt != nil {
		resp["retry_at"] = result.RetryAt
	}
	c.JSON(http.StatusOK, resp)
}
