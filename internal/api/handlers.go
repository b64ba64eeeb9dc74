package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ebbinghaus/internal/api/dto"
	"ebbinghaus/internal/cache"
	"ebbinghaus/internal/clock"
	"ebbinghaus/internal/domain"
	"ebbinghaus/internal/storage"
	logx "ebbinghaus/pkg/logx"
)

const healthTimeout = 2 * time.Second

type handler struct {
	deps Deps
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
}

func (h *handler) internal(c *gin.Context, op string, err error) {
	_ = c.Error(err)
	h.deps.Log.Error(op+" failed", logx.Err(err))
	c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal error"})
}

func userNotFound(c *gin.Context, id string) {
	c.String(http.StatusNotFound, "No user found with id '%s'", id)
}

func (h *handler) createUser(c *gin.Context) {
	var req dto.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		badRequest(c, errors.New("email must not be blank"))
		return
	}
	u, err := h.deps.Store.CreateUser(c.Request.Context(), email)
	if err != nil {
		h.internal(c, "create user", err)
		return
	}
	h.deps.Log.Info("user created", logx.Int64("user_id", u.ID))
	c.JSON(http.StatusOK, dto.CreateUserResponse{UserID: u.ID})
}

// addReminder stores the reminder and its schedule at the first phase, due now.
func (h *handler) addReminder(c *gin.Context) {
	var req dto.CreateReminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	now, err := clock.Read(h.deps.Clock)
	if err != nil {
		h.internal(c, "add reminder", err)
		return
	}

	r := domain.Reminder{UserID: req.UserID, Topic: req.Topic, Text: req.Text}
	s := domain.NewSchedule(0, h.deps.Phases, now)
	r, s, err = h.deps.Store.CreateReminder(c.Request.Context(), r, s)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		userNotFound(c, strconv.FormatInt(req.UserID, 10))
		return
	case err != nil:
		h.internal(c, "add reminder", err)
		return
	}
	h.deps.Log.Info("reminder added",
		logx.Int64("reminder_id", r.ID),
		logx.Int64("user_id", r.UserID),
		logx.Int64("schedule_id", s.ID),
	)
	c.JSON(http.StatusOK, dto.CreateReminderResponse{MemoryID: r.ID})
}

func (h *handler) getUser(c *gin.Context) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		userNotFound(c, raw)
		return
	}
	u, err := h.deps.Store.GetUser(c.Request.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		userNotFound(c, raw)
	case err != nil:
		h.internal(c, "get user", err)
	default:
		c.JSON(http.StatusOK, u)
	}
}

func (h *handler) getSchedule(c *gin.Context) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		badRequest(c, fmt.Errorf("invalid reminder id %q", raw))
		return
	}
	s, err := h.deps.Store.GetSchedule(c.Request.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: fmt.Sprintf("no reminder with id '%d'", id)})
	case err != nil:
		h.internal(c, "get schedule", err)
	default:
		c.JSON(http.StatusOK, dto.ScheduleResponse{
			ReminderID:  s.ReminderID,
			PhaseNumber: s.PhaseNumber,
			LastPhase:   h.deps.Phases.Last(),
			NextRun:     s.NextRun,
			Completed:   s.Terminal(),
		})
	}
}

func (h *handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()
	if err := h.deps.Store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, dto.HealthResponse{Status: "degraded", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.HealthResponse{Status: "ok"})
}

func (h *handler) scheduler(c *gin.Context) {
	if h.deps.Scheduler == nil {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "scheduler not configured"})
		return
	}
	c.JSON(http.StatusOK, h.deps.Scheduler.Snapshot())
}

func (h *handler) deliveries(c *gin.Context) {
	if h.deps.Deliveries == nil {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "delivery log not configured"})
		return
	}
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		badRequest(c, errors.New("invalid page number"))
		return
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	if err != nil || pageSize <= 0 || pageSize > 500 {
		badRequest(c, errors.New("invalid page size"))
		return
	}
	if page > cache.MaxPage(pageSize) {
		badRequest(c, errors.New("invalid page number"))
		return
	}
	items, total, err := h.deps.Deliveries.Recent(c.Request.Context(), page, pageSize)
	if err != nil {
		h.internal(c, "list deliveries", err)
		return
	}
	if len(items) == 0 {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, dto.DeliveriesResponse{Deliveries: items, Total: total})
}
