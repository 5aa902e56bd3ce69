package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smajobb/marketplace/internal/audit/domain"
	monitoringdomain "github.com/smajobb/marketplace/internal/monitoring/domain"
	"github.com/smajobb/marketplace/pkg/db/pagination"
)

const defaultPerformanceWindow = 5 * time.Minute

func (s *Server) ListErrors(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Resolved *bool  `form:"resolved"`
		Severity string `form:"severity"`
		Type     string `form:"type"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.monitoringSvc.ListErrors(c.Request.Context(), monitoringdomain.ListErrorsRequest{
		ErrorLogFilter: monitoringdomain.ErrorLogFilter{
			Resolved: query.Resolved,
			Severity: monitoringdomain.Severity(strings.ToLower(strings.TrimSpace(query.Severity))),
			Type:     strings.TrimSpace(query.Type),
		},
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ResolveError(c *gin.Context) {
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.monitoringSvc.ResolveError(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.Entry{
		Action:     auditdomain.ActionErrorLogResolve,
		TargetType: auditdomain.TargetErrorLog,
		TargetID:   id.String(),
		Metadata:   map[string]any{"type": item.Type, "severity": string(item.Severity)},
	})
	c.JSON(http.StatusOK, gin.H{"data": item})
}

// SystemHealth answers 200 even when the report is unhealthy; the status is in the body.
func (s *Server) SystemHealth(c *gin.Context) {
	report, err := s.monitoringSvc.CheckHealth(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) PerformanceStats(c *gin.Context) {
	window, err := parseOptionalDuration(c.Query("window"), defaultPerformanceWindow)
	if err != nil || window <= 0 {
		AbortWithError(c, newValidationError("window", "invalid_window", "window must be a positive duration"))
		return
	}

	stats, err := s.monitoringSvc.PerformanceStats(c.Request.Context(), window)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}
