package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smajobb/marketplace/internal/audit/domain"
	"github.com/smajobb/marketplace/pkg/db/pagination"
	"go.uber.org/zap"
)

// recordAudit never fails the request; a lost audit row is logged.
func (s *Server) recordAudit(c *gin.Context, entry auditdomain.Entry) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.Record(c.Request.Context(), entry); err != nil {
		s.log.Error("failed to record audit entry",
			zap.String("action", entry.Action),
			zap.String("target_id", entry.TargetID),
			zap.Error(err),
		)
	}
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	if s.auditSvc == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	var query struct {
		pagination.Pagination
		Action     string `form:"action"`
		TargetType string `form:"target_type"`
		TargetID   string `form:"target_id"`
		ActorType  string `form:"actor_type"`
		StartAt    string `form:"start_at"`
		EndAt      string `form:"end_at"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	startAt, err := parseOptionalTime(query.StartAt, false)
	if err != nil {
		AbortWithError(c, newValidationError("start_at", "invalid_start_at", "invalid start_at"))
		return
	}
	endAt, err := parseOptionalTime(query.EndAt, true)
	if err != nil {
		AbortWithError(c, newValidationError("end_at", "invalid_end_at", "invalid end_at"))
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListRequest{
		ListFilter: auditdomain.ListFilter{
			Action:     strings.TrimSpace(query.Action),
			TargetType: strings.TrimSpace(query.TargetType),
			TargetID:   strings.TrimSpace(query.TargetID),
			ActorType:  strings.TrimSpace(query.ActorType),
			StartAt:    startAt,
			EndAt:      endAt,
		},
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
