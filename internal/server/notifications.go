package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smajobb/marketplace/internal/audit/domain"
	notificationdomain "github.com/smajobb/marketplace/internal/notification/domain"
	"github.com/smajobb/marketplace/internal/notification/realtime"
	"github.com/smajobb/marketplace/pkg/db/pagination"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type broadcastRequest struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	ActionURL  *string        `json:"action_url"`
	ActionText *string        `json:"action_text"`
	Priority   string         `json:"priority"`
	ExpiresAt  *time.Time     `json:"expires_at"`
	Metadata   map[string]any `json:"metadata"`
}

func (s *Server) ListNotifications(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query struct {
		pagination.Pagination
		UnreadOnly bool   `form:"unread_only"`
		Type       string `form:"type"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.notificationSvc.List(c.Request.Context(), notificationdomain.ListRequest{
		UserID:     userID,
		UnreadOnly: query.UnreadOnly,
		Type:       strings.TrimSpace(query.Type),
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UnreadNotificationCount(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	count, err := s.notificationSvc.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"unread_count": count}})
}

func (s *Server) MarkNotificationRead(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.notificationSvc.MarkAsRead(c.Request.Context(), userID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) MarkNotificationUnread(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.notificationSvc.MarkAsUnread(c.Request.Context(), userID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) MarkAllNotificationsRead(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	updated, err := s.notificationSvc.MarkAllAsRead(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"updated": updated}})
}

func (s *Server) DeleteNotification(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.notificationSvc.Delete(c.Request.Context(), userID, id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) DeleteAllNotifications(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	deleted, err := s.notificationSvc.DeleteAll(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"deleted": deleted}})
}

// BroadcastNotification stores the notification for every active user and
// pushes one broadcast frame.
func (s *Server) BroadcastNotification(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var metadata datatypes.JSONMap
	if len(req.Metadata) > 0 {
		metadata = datatypes.JSONMap(req.Metadata)
	}
	recipients, err := s.notificationSvc.Broadcast(c.Request.Context(), notificationdomain.Template{
		Type:       req.Type,
		Title:      req.Title,
		Message:    req.Message,
		ActionURL:  req.ActionURL,
		ActionText: req.ActionText,
		Priority:   notificationdomain.Priority(strings.ToLower(strings.TrimSpace(req.Priority))),
		ExpiresAt:  req.ExpiresAt,
		Metadata:   metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.Entry{
		Action:     auditdomain.ActionNotificationBroadcast,
		TargetType: auditdomain.TargetNotification,
		Metadata: map[string]any{
			"type":       req.Type,
			"title":      req.Title,
			"recipients": recipients,
		},
	})
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"recipients": recipients}})
}

// StreamNotifications relays realtime frames for the acting user as server-sent events.
func (s *Server) StreamNotifications(c *gin.Context) {
	if s.hub == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	subscription, err := s.hub.Subscribe(userID)
	if err != nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	defer subscription.Close()

	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if _, err := io.WriteString(writer, "retry: 2000\n\n"); err != nil {
		return
	}
	flusher.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-subscription.Events():
			if !open {
				return
			}
			if err := writeRealtimeEvent(writer, event); err != nil {
				s.log.Debug("notification stream closed", zap.String("user_id", userID.String()), zap.Error(err))
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeRealtimeEvent(w io.Writer, event realtime.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}
