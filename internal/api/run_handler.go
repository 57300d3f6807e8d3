package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/mo"
	"github.com/spf13/cast"
	"github.com/taskrun/engine/internal/biz/run"
	"github.com/taskrun/engine/internal/biz/snapshot"
	"github.com/taskrun/engine/internal/biz/waitpoint"
	"github.com/taskrun/engine/internal/engine"
)

type RunHandler struct {
	engine *engine.Engine
	runs   run.Repo
}

func NewRunHandler(eng *engine.Engine, runs run.Repo) *RunHandler {
	return &RunHandler{engine: eng, runs: runs}
}

type TriggerRunReq struct {
	FriendlyID     string   `json:"friendly_id"`
	EnvironmentID  string   `json:"environment_id" binding:"required"`
	ProjectID      string   `json:"project_id"`
	OrganizationID string   `json:"organization_id"`
	TaskIdentifier string   `json:"task_identifier" binding:"required"`
	Queue          string   `json:"queue"`
	WorkerQueue    string   `json:"worker_queue" binding:"required"`
	Payload        string   `json:"payload"`
	PayloadType    string   `json:"payload_type"`
	PriorityMS     int      `json:"priority_ms"`
	TTLSeconds     int64    `json:"ttl_seconds"`
	IdempotencyKey string   `json:"idempotency_key"`
	TraceID        string   `json:"trace_id"`
	SpanID         string   `json:"span_id"`
	Tags           []string `json:"tags"`
	IsTest         bool     `json:"is_test"`
}

type RunResponse struct {
	ID             string     `json:"id"`
	FriendlyID     string     `json:"friendly_id"`
	EnvironmentID  string     `json:"environment_id"`
	ProjectID      string     `json:"project_id,omitempty"`
	TaskIdentifier string     `json:"task_identifier"`
	WorkerQueue    string     `json:"worker_queue"`
	Status         run.Status `json:"status"`
	AttemptNumber  int        `json:"attempt_number"`
	Output         *string    `json:"output,omitempty"`
	Error          *run.Error `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ExpiredAt      *time.Time `json:"expired_at,omitempty"`
}

func newRunResponse(r *run.Run) RunResponse {
	return RunResponse{
		ID:             r.ID,
		FriendlyID:     r.FriendlyID,
		EnvironmentID:  r.EnvironmentID,
		ProjectID:      r.ProjectID,
		TaskIdentifier: r.TaskIdentifier,
		WorkerQueue:    r.WorkerQueue,
		Status:         r.Status,
		AttemptNumber:  r.AttemptNumber,
		Output:         r.Output,
		Error:          r.Error,
		CreatedAt:      r.CreatedAt,
		CompletedAt:    r.CompletedAt,
		ExpiredAt:      r.ExpiredAt,
	}
}

type SnapshotResponse struct {
	ID              string                   `json:"id"`
	RunID           string                   `json:"run_id"`
	ExecutionStatus snapshot.ExecutionStatus `json:"execution_status"`
	RunStatus       run.Status               `json:"run_status"`
	Description     string                   `json:"description"`
	AttemptNumber   int                      `json:"attempt_number"`
	CreatedAt       time.Time                `json:"created_at"`
}

func newSnapshotResponse(s *snapshot.Snapshot) SnapshotResponse {
	return SnapshotResponse{
		ID:              s.ID,
		RunID:           s.RunID,
		ExecutionStatus: s.ExecutionStatus,
		RunStatus:       s.RunStatus,
		Description:     s.Description,
		AttemptNumber:   s.AttemptNumber,
		CreatedAt:       s.CreatedAt,
	}
}

type ExecutionDataResponse struct {
	Run                 RunResponse         `json:"run"`
	Snapshot            SnapshotResponse    `json:"snapshot"`
	CompletedWaitpoints []WaitpointResponse `json:"completed_waitpoints"`
}

func newExecutionDataResponse(data *engine.ExecutionData) ExecutionDataResponse {
	return ExecutionDataResponse{
		Run:                 newRunResponse(data.Run),
		Snapshot:            newSnapshotResponse(data.Snapshot),
		CompletedWaitpoints: newWaitpointResponses(data.CompletedWaitpoints),
	}
}

func newWaitpointResponses(wps []*waitpoint.Waitpoint) []WaitpointResponse {
	out := make([]WaitpointResponse, len(wps))
	for i, wp := range wps {
		out[i] = newWaitpointResponse(wp)
	}
	return out
}

func (h *RunHandler) Trigger(c *gin.Context) {
	var req TriggerRunReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	r, err := h.engine.Trigger(c.Request.Context(), engine.TriggerRequest{
		FriendlyID:     req.FriendlyID,
		EnvironmentID:  req.EnvironmentID,
		ProjectID:      req.ProjectID,
		OrganizationID: req.OrganizationID,
		TaskIdentifier: req.TaskIdentifier,
		Queue:          req.Queue,
		WorkerQueue:    req.WorkerQueue,
		Payload:        req.Payload,
		PayloadType:    req.PayloadType,
		PriorityMS:     req.PriorityMS,
		TTL:            time.Duration(req.TTLSeconds) * time.Second,
		IdempotencyKey: req.IdempotencyKey,
		TraceID:        req.TraceID,
		SpanID:         req.SpanID,
		Tags:           req.Tags,
		IsTest:         req.IsTest,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, newRunResponse(r))
}

func (h *RunHandler) List(c *gin.Context) {
	page := cast.ToInt(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize := cast.ToInt(c.DefaultQuery("page_size", "20"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	filter := run.ListFilter{}
	if v := c.Query("environment_id"); v != "" {
		filter.EnvironmentID = mo.Some(v)
	}
	if v := c.Query("task_identifier"); v != "" {
		filter.TaskIdentifier = mo.Some(v)
	}
	if v := c.Query("status"); v != "" {
		filter.Status = mo.Some(run.Status(v))
	}
	if v := c.Query("worker_queue"); v != "" {
		filter.WorkerQueue = mo.Some(v)
	}

	runs, total, err := h.runs.List(c.Request.Context(), filter, (page-1)*pageSize, pageSize)
	if err != nil {
		_ = c.Error(err)
		return
	}

	items := make([]RunResponse, len(runs))
	for i, r := range runs {
		items[i] = newRunResponse(r)
	}
	c.JSON(http.StatusOK, gin.H{
		"items":     items,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func (h *RunHandler) GetExecutionData(c *gin.Context) {
	data, err := h.engine.GetRunExecutionData(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, newExecutionDataResponse(data))
}

func (h *RunHandler) GetSnapshotsSince(c *gin.Context) {
	snaps, err := h.engine.GetSnapshotsSince(c.Request.Context(), c.Param("id"), c.Param("snapshot_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	items := make([]gin.H, len(snaps))
	for i, s := range snaps {
		items[i] = gin.H{
			"snapshot":             newSnapshotResponse(s.Snapshot),
			"completed_waitpoints": newWaitpointResponses(s.CompletedWaitpoints),
		}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
