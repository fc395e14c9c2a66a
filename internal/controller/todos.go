package controller

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"todoapp/internal/models"
	"todoapp/internal/repository"
	"todoapp/internal/service"
	"todoapp/pkg/logger"
)

// TodoController serves the todo resource over HTTP.
type TodoController struct {
	svc   *service.TodoService
	ready func(ctx context.Context) error
}

// NewTodoController wires the handlers to svc. ready backs the readiness probe and may be nil.
func NewTodoController(svc *service.TodoService, ready func(ctx context.Context) error) *TodoController {
	return &TodoController{svc: svc, ready: ready}
}

// respondError maps service errors to status codes. Not-found answers carry no body.
func respondError(c *gin.Context, op string, err error) {
	ctx := c.Request.Context()
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.Status(http.StatusNotFound)
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Todo was modified concurrently"})
	case isContextErr(err) && ctx.Err() != nil:
		// client went away
		c.Abort()
	default:
		logger.Error(ctx, op+" failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + op})
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// CreateTodo stores a new todo and queues it for archiving.
func (tc *TodoController) CreateTodo(c *gin.Context) {
	var body models.TodoCreate
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	todo, err := tc.svc.Create(c.Request.Context(), body.TaskDescription)
	if err != nil {
		respondError(c, "create todo", err)
		return
	}
	c.JSON(http.StatusOK, todo)
}

// GetTodos returns the first page of todos.
func (tc *TodoController) GetTodos(c *gin.Context) {
	todos, err := tc.svc.List(c.Request.Context())
	if err != nil {
		respondError(c, "get todos", err)
		return
	}
	c.JSON(http.StatusOK, todos)
}

func (tc *TodoController) GetTodoByID(c *gin.Context) {
	todo, err := tc.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "get todo", err)
		return
	}
	c.JSON(http.StatusOK, todo)
}

func (tc *TodoController) UpdateTodo(c *gin.Context) {
	var body models.TodoUpdate
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	todo, err := tc.svc.Update(c.Request.Context(), c.Param("id"), body)
	if err != nil {
		respondError(c, "update todo", err)
		return
	}
	c.JSON(http.StatusOK, todo)
}

func (tc *TodoController) DeleteTodo(c *gin.Context) {
	if err := tc.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, "delete todo", err)
		return
	}
	c.Status(http.StatusOK)
}

// Health returns 200 if the process is alive. Used by load balancers.
func Health(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// Ready returns 200 if the task store is reachable. Used by K8s readiness probes.
func (tc *TodoController) Ready(c *gin.Context) {
	if tc.ready == nil {
		c.String(http.StatusOK, "OK")
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := tc.ready(ctx); err != nil {
		logger.Warn(ctx, "Readiness check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "task store unavailable"})
		return
	}
	c.String(http.StatusOK, "OK")
}
