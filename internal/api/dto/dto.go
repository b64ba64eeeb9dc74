// Package dto holds the JSON bodies of the HTTP API.
package dto

import (
	"time"

	"ebbinghaus/internal/cache"
)

type CreateUserRequest struct {
	Email string `json:"email" binding:"required"`
}

type CreateUserResponse struct {
	UserID int64 `json:"user_id"`
}

type CreateReminderRequest struct {
	UserID int64   `json:"user_id" binding:"required"`
	Topic  *string `json:"topic"`
	Text   string  `json:"text" binding:"required"`
}

type CreateReminderResponse struct {
	MemoryID int64 `json:"memory_id"`
}

type ScheduleResponse struct {
	ReminderID  int64      `json:"reminder_id"`
	PhaseNumber int        `json:"phase_number"`
	LastPhase   int        `json:"last_phase"`
	NextRun     *time.Time `json:"next_run"`
	Completed   bool       `json:"completed"`
}

type DeliveriesResponse struct {
	Deliveries []cache.Delivery `json:"deliveries"`
	Total      int64            `json:"total"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
