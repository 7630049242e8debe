package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lloydcotten/common-mq/internal/models"
	"github.com/lloydcotten/common-mq/internal/provider"
	"github.com/lloydcotten/common-mq/internal/queue"
	"github.com/lloydcotten/common-mq/internal/service"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 500
)

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MessageService is the part of *service.MessageService the routes use.
type MessageService interface {
	Publish(payload any, extra provider.Extra) error
	Ack(ctx context.Context, handle string) error
	Health() queue.HealthStatus
	Recent(ctx context.Context, limit int) ([]models.JournalEntry, error)
}

// PublishRequest is the body of POST /messages
type PublishRequest struct {
	Payload any            `json:"payload"`
	Extra   provider.Extra `json:"extra"`
}

// AckRequest is the body of POST /messages/ack
type AckRequest struct {
	Handle string `json:"handle" binding:"required"`
}

func RegisterRoutes(r *gin.Engine, svc MessageService) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, APIResponse{Success: true, Data: map[string]string{"status": "ok"}})
	})

	messages := r.Group("/messages")
	messages.POST("", publishMessage(svc))
	messages.POST("/ack", ackMessage(svc))
	messages.GET("/recent", recentMessages(svc))
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message},
	})
}

func publishMessage(svc MessageService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if svc == nil {
			fail(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Queue not available")
			return
		}

		var req PublishRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		if req.Payload == nil {
			fail(c, http.StatusBadRequest, "INVALID_BODY", "payload is required")
			return
		}

		if err := svc.Publish(req.Payload, req.Extra); err != nil {
			_ = c.Error(err)
			if errors.Is(err, queue.ErrClosed) || errors.Is(err, service.ErrNoQueue) {
				fail(c, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", err.Error())
				return
			}
			fail(c, http.StatusInternalServerError, "PUBLISH_FAILED", err.Error())
			return
		}

		c.JSON(http.StatusAccepted, APIResponse{Success: true})
	}
}

func ackMessage(svc MessageService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if svc == nil {
			fail(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Queue not available")
			return
		}

		var req AckRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}

		if err := svc.Ack(c.Request.Context(), req.Handle); err != nil {
			_ = c.Error(err)
			fail(c, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", err.Error())
			return
		}

		c.JSON(http.StatusAccepted, APIResponse{Success: true})
	}
}

// recentMessages returns the latest journal entries
func recentMessages(svc MessageService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if svc == nil {
			fail(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Queue not available")
			return
		}

		limit := defaultRecentLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > maxRecentLimit {
				fail(c, http.StatusBadRequest, "INVALID_PARAMETER", "limit must be between 1 and 500")
				return
			}
			limit = n
		}

		entries, err := svc.Recent(c.Request.Context(), limit)
		if err != nil {
			_ = c.Error(err)
			if errors.Is(err, service.ErrNoJournal) {
				fail(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Database connection not available")
				return
			}
			fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to retrieve messages")
			return
		}
		if entries == nil {
			entries = []models.JournalEntry{}
		}

		c.JSON(http.StatusOK, APIResponse{Success: true, Data: entries})
	}
}
