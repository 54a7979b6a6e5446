package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	costdomain "github.com/smallbiznis/leadcore/internal/costguard/domain"
	flagdomain "github.com/smallbiznis/leadcore/internal/platformflag/domain"
	"go.uber.org/zap"
)

type pauseTenantRequest struct {
	Reason          string `json:"reason"`
	DurationSeconds int64  `json:"duration_seconds"`
}

type setKillSwitchRequest struct {
	Enabled *bool  `json:"enabled"`
	Reason  string `json:"reason"`
	Actor   string `json:"actor"`
}

func (s *Server) GetUsage(c *gin.Context) {
	day, err := parseOptionalDate(c.Query("date"))
	if err != nil {
		AbortWithError(c, newValidationError("date", "invalid_date", "invalid date"))
		return
	}
	when := time.Now().UTC()
	if day != nil {
		when = *day
	}

	resp, err := s.costGuardSvc.GetUsage(c.Request.Context(), c.Param("tenant_id"), when)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetGuardStatus(c *gin.Context) {
	resp, err := s.costGuardSvc.Status(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) PauseTenant(c *gin.Context) {
	var req pauseTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.costGuardSvc.Pause(c.Request.Context(), costdomain.PauseRequest{
		TenantID: c.Param("tenant_id"),
		Reason:   strings.TrimSpace(req.Reason),
		Duration: time.Duration(req.DurationSeconds) * time.Second,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ResumeTenant(c *gin.Context) {
	resumed, err := s.costGuardSvc.Resume(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"resumed": resumed}})
}

func (s *Server) GetKillSwitch(c *gin.Context) {
	flag, err := s.killSwitch.Get(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": flag})
}

func (s *Server) SetKillSwitch(c *gin.Context) {
	var req setKillSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	flag, err := s.killSwitch.Set(c.Request.Context(), flagdomain.SetRequest{
		Enabled: *req.Enabled,
		Reason:  strings.TrimSpace(req.Reason),
		Actor:   strings.TrimSpace(req.Actor),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.log.Warn("kill switch updated",
		zap.Bool("enabled", flag.Enabled),
		zap.String("actor", flag.UpdatedBy),
		zap.String("reason", flag.Reason),
	)
	c.JSON(http.StatusOK, gin.H{"data": flag})
}
