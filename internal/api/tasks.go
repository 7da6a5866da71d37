// Package api exposes the task-management HTTP surface.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/datapilot-io/datapilot-ce/internal/models"
	"github.com/datapilot-io/datapilot-ce/internal/repository"
	"github.com/datapilot-io/datapilot-ce/internal/services/scheduler"
)

// TaskStore is the persistence surface the handlers need.
type TaskStore interface {
	Create(ctx context.Context, task *models.ScheduledTask) (int, error)
	Update(ctx context.Context, task *models.ScheduledTask) error
	GetByID(ctx context.Context, id int) (*models.ScheduledTask, error)
	List(ctx context.Context) ([]*models.ScheduledTask, error)
	UpdateStatus(ctx context.Context, id int, status string) error
	Delete(ctx context.Context, id int) error
}

// LogStore lists execution history.
type LogStore interface {
	ListByTask(ctx context.Context, taskID, limit int) ([]*models.TaskExecutionLog, error)
}

// Scheduler is the live runtime the handlers drive.
type Scheduler interface {
	Apply(task *models.ScheduledTask) error
	Remove(taskID int)
	Pause(ctx context.Context, taskID int) error
	Resume(ctx context.Context, taskID int) error
	RunNow(ctx context.Context, taskID int) error
	Status() scheduler.Status
	JobNames() []string
}

// TaskHandler serves the task CRUD and scheduler control endpoints.
type TaskHandler struct {
	tasks     TaskStore
	logs      LogStore
	scheduler Scheduler
	logger    *log.Logger
}

func NewTaskHandler(tasks TaskStore, logs LogStore, sched Scheduler, logger *log.Logger) *TaskHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &TaskHandler{tasks: tasks, logs: logs, scheduler: sched, logger: logger}
}

// RegisterRoutes mounts the API under /api/v1.
func (h *TaskHandler) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/tasks", h.createTask)
		v1.GET("/tasks", h.listTasks)
		v1.GET("/tasks/:id", h.getTask)
		v1.PUT("/tasks/:id", h.updateTask)
		v1.DELETE("/tasks/:id", h.deleteTask)
		v1.POST("/tasks/:id/pause", h.pauseTask)
		v1.POST("/tasks/:id/resume", h.resumeTask)
		v1.POST("/tasks/:id/run", h.runTask)
		v1.GET("/tasks/:id/logs", h.listTaskLogs)
		v1.GET("/scheduler/status", h.schedulerStatus)
		v1.GET("/scheduler/jobs", h.listJobs)
	}
}

type taskRequest struct {
	Name           string         `json:"name" binding:"required"`
	JobName        string         `json:"job_name" binding:"required"`
	CronExpression string         `json:"cron_expression" binding:"required"`
	Params         map[string]any `json:"params"`
	Status         string         `json:"status"`
}

func (r *taskRequest) apply(task *models.ScheduledTask) error {
	task.Name = r.Name
	task.JobName = r.JobName
	task.CronExpression = r.CronExpression
	if r.Status != "" {
		task.Status = r.Status
	}
	if task.Status == "" {
		task.Status = models.TaskStatusActive
	}
	params := r.Params
	if params == nil {
		params = map[string]any{}
	}
	return task.SetParamsMap(params)
}

func validStatus(status string) bool {
	switch status {
	case "", models.TaskStatusActive, models.TaskStatusInactive, models.TaskStatusPaused:
		return true
	}
	return false
}

func sendError(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"error": message})
}

// failureCode maps domain errors onto HTTP statuses: a missing row is 404,
// an unregistered job name 422, a malformed cron expression 400.
func failureCode(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrUnknownJob):
		return http.StatusUnprocessableEntity
	case errors.Is(err, scheduler.ErrInvalidCron):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *TaskHandler) createTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !validStatus(req.Status) {
		sendError(c, http.StatusBadRequest, "status must be ACTIVE, INACTIVE, or PAUSED")
		return
	}

	task := &models.ScheduledTask{}
	if err := req.apply(task); err != nil {
		sendError(c, http.StatusBadRequest, "invalid params: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	if _, err := h.tasks.Create(ctx, task); err != nil {
		sendError(c, http.StatusInternalServerError, "failed to create task")
		return
	}

	if err := h.scheduler.Apply(task); err != nil {
		// The row exists but cannot be scheduled; park it instead of
		// leaving a half-live task behind.
		task.Status = models.TaskStatusInactive
		if stErr := h.tasks.UpdateStatus(ctx, task.ID, models.TaskStatusInactive); stErr != nil {
			h.logger.Printf("api: failed to deactivate unschedulable task %d: %v", task.ID, stErr)
		}
		sendError(c, failureCode(err), err.Error())
		return
	}

	c.JSON(http.StatusCreated, task)
}

func (h *TaskHandler) listTasks(c *gin.Context) {
	tasks, err := h.tasks.List(c.Request.Context())
	if err != nil {
		sendError(c, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "total": len(tasks)})
}

func (h *TaskHandler) getTask(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}
	task, err := h.tasks.GetByID(c.Request.Context(), id)
	if err != nil {
		sendError(c, failureCode(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) updateTask(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !validStatus(req.Status) {
		sendError(c, http.StatusBadRequest, "status must be ACTIVE, INACTIVE, or PAUSED")
		return
	}

	ctx := c.Request.Context()
	task, err := h.tasks.GetByID(ctx, id)
	if err != nil {
		sendError(c, failureCode(err), err.Error())
		return
	}

	if err := req.apply(task); err != nil {
		sendError(c, http.StatusBadRequest, "invalid params: "+err.Error())
		return
	}
	task.UpdatedAt = time.Now().UTC()

	if err := h.tasks.Update(ctx, task); err != nil {
		sendError(c, failureCode(err), err.Error())
		return
	}

	if err := h.scheduler.Apply(task); err != nil {
		task.Status = models.TaskStatusInactive
		if stErr := h.tasks.UpdateStatus(ctx, task.ID, models.TaskStatusInactive); stErr != nil {
			h.logger.Printf("api: failed to deactivate unschedulable task %d: %v", task.ID, stErr)
		}
		sendError(c, failureCode(err), err.Error())
		return
	}

	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) deleteTask(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}
	// Drop the handle first so no new fire starts against a vanishing row.
	h.scheduler.Remove(id)
	if err := h.tasks.Delete(c.Request.Context(), id); err != nil {
		sendError(c, failureCode(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (h *TaskHandler) pauseTask(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}
	if err := h.scheduler.Pause(c.Request.Context(), id); err != nil {
		sendError(c, failureCode(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": models.TaskStatusPaused})
}

func (h *TaskHandler) resumeTask(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}
	if err := h.scheduler.Resume(c.Request.Context(), id); err != nil {
		sendError(c, failureCode(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": models.TaskStatusActive})
}

func (h *TaskHandler) runTask(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}
	if err := h.scheduler.RunNow(c.Request.Context(), id); err != nil {
		sendError(c, failureCode(err), err.Error())
		return
	}
	// Execution is asynchronous; the log endpoint has the outcome.
	c.JSON(http.StatusAccepted, gin.H{"id": id, "triggered": true})
}

func (h *TaskHandler) listTaskLogs(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			sendError(c, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	if _, err := h.tasks.GetByID(c.Request.Context(), id); err != nil {
		sendError(c, failureCode(err), err.Error())
		return
	}
	logs, err := h.logs.ListByTask(c.Request.Context(), id, limit)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "failed to list execution logs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": id, "logs": logs, "total": len(logs)})
}

func (h *TaskHandler) schedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Status())
}

func (h *TaskHandler) listJobs(c *gin.Context) {
	names := h.scheduler.JobNames()
	c.JSON(http.StatusOK, gin.H{"jobs": names, "total": len(names)})
}

func (h *TaskHandler) taskID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		sendError(c, http.StatusBadRequest, "task id must be a positive integer")
		return 0, false
	}
	return id, true
}
